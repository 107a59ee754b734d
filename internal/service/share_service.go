package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"Go_Pic/config"
	"Go_Pic/internal/logging"
	"Go_Pic/internal/repo"
	"Go_Pic/internal/storage"
	"Go_Pic/model"
	"Go_Pic/utils"
)

// MaxShareExpiryHours caps expiresIn at 100 years, well inside time.Duration range.
const MaxShareExpiryHours = 100 * 365 * 24

var (
	ErrShareNotFound     = errors.New("share link not found")
	ErrInvalidShareInput = errors.New("invalid share input")
)

type ShareStore interface {
	Create(ctx context.Context, link *model.ShareLink) error
	FindByToken(ctx context.Context, token string) (*model.ShareLink, error)
	FindByID(ctx context.Context, id string) (*model.ShareLink, error)
	IncrementCounter(ctx context.Context, id, field string) error
	ClaimView(ctx context.Context, id string, now time.Time) (bool, error)
	AppendAccess(ctx context.Context, id string, entry model.AccessEntry, capacity int) error
	ListAccessLog(ctx context.Context, id string) ([]model.AccessEntry, error)
	List(ctx context.Context, page, limit int, orderBy string, desc bool) ([]model.ShareLink, int64, error)
	SetActive(ctx context.Context, id string, active bool) error
	Delete(ctx context.Context, id string) error
}

// ImageResolver is the image collaborator of the share engine.
type ImageResolver interface {
	ResolveMany(ctx context.Context, ids []string) ([]model.Image, error)
	IncrementCounters(ctx context.Context, ids []string, field string) error
}

type ShareNotifier interface {
	Enabled() bool
	SendShareMail(to, title, link string) error
}

type ShareDeps struct {
	Store   ShareStore
	Images  ImageResolver
	Objects storage.Store
	Hasher  PasswordHasher
	Cache   utils.Cache
	Mailer  ShareNotifier
	Logger  *logging.Logger
}

type ShareService struct {
	store   ShareStore
	images  ImageResolver
	objects storage.Store
	hasher  PasswordHasher
	cache   utils.Cache
	mailer  ShareNotifier
	logger  *logging.Logger

	baseURL      string
	tokenRetries int
	missTTL      time.Duration

	now      func() time.Time
	newToken func() string
	async    func(func())
}

func NewShareService(cfg config.Config, deps ShareDeps) *ShareService {
	retries := cfg.ShareTokenRetries
	if retries <= 0 {
		retries = 3
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &ShareService{
		store:        deps.Store,
		images:       deps.Images,
		objects:      deps.Objects,
		hasher:       deps.Hasher,
		cache:        deps.Cache,
		mailer:       deps.Mailer,
		logger:       logger,
		baseURL:      cfg.ShareBaseURL,
		tokenRetries: retries,
		missTTL:      time.Minute,
		now:          time.Now,
		newToken:     utils.NewShareToken,
		async:        func(f func()) { go f() },
	}
}

type CreateShareInput struct {
	ImageID        string
	ImageIDs       []string
	ShareType      model.ShareType
	Title          string
	Description    string
	Password       string
	ExpiresInHours int
	MaxViews       *int
	AllowDownload  *bool
	CreatorIP      string
	NotifyEmails   []string
}

// ShareInfo is the public description of a link returned to visitors.
type ShareInfo struct {
	ID            string          `json:"id"`
	Title         string          `json:"title"`
	Description   string          `json:"description"`
	ShareType     model.ShareType `json:"shareType"`
	AllowDownload bool            `json:"allowDownload"`
	ViewCount     int             `json:"viewCount"`
	DownloadCount int             `json:"downloadCount"`
	ExpiresAt     *time.Time      `json:"expiresAt"`
	CreatedAt     time.Time       `json:"createdAt"`
}

func newShareInfo(link *model.ShareLink) *ShareInfo {
	return &ShareInfo{
		ID:            link.ID,
		Title:         link.Title,
		Description:   link.Description,
		ShareType:     link.ShareType,
		AllowDownload: link.AllowDownload,
		ViewCount:     link.ViewCount,
		DownloadCount: link.DownloadCount,
		ExpiresAt:     link.ExpiresAt,
		CreatedAt:     link.CreatedAt,
	}
}

type AccessResult struct {
	Reason Reason
	Share  *ShareInfo
	Images []model.Image
}

type DownloadResult struct {
	Reason Reason
	Share  *ShareInfo
	Images []model.Image
}

// ShareView is a link as shown to the share manager.
type ShareView struct {
	model.ShareLink
	HasPassword bool   `json:"has_password"`
	URL         string `json:"url"`
}

type ShareList struct {
	ShareLinks []ShareView `json:"shareLinks"`
	Pagination Pagination  `json:"pagination"`
}

// ShareURL is the public address of link.
func (s *ShareService) ShareURL(link *model.ShareLink) string {
	return s.baseURL + "/api/share/" + link.Token
}

func (s *ShareService) view(link *model.ShareLink) *ShareView {
	return &ShareView{ShareLink: *link, HasPassword: link.HasPassword(), URL: s.ShareURL(link)}
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// targetsFor validates the share type against the supplied references.
func targetsFor(in CreateShareInput) ([]string, Reason) {
	shareType := in.ShareType
	if shareType == "" {
		shareType = model.ShareSingle
	}
	if !shareType.Valid() {
		return nil, ReasonInvalidTarget
	}
	if shareType == model.ShareSingle {
		if in.ImageID == "" || len(in.ImageIDs) > 0 {
			return nil, ReasonInvalidTarget
		}
		return []string{in.ImageID}, Allowed
	}
	refs := dedupe(in.ImageIDs)
	if in.ImageID != "" || len(refs) == 0 {
		return nil, ReasonInvalidTarget
	}
	return refs, Allowed
}

// CreateShare validates and persists a new link. Denials come back as a Reason; the error is
// reserved for storage failures and invalid numeric input.
func (s *ShareService) CreateShare(ctx context.Context, in CreateShareInput) (*model.ShareLink, Reason, error) {
	if in.MaxViews != nil && *in.MaxViews < 0 {
		return nil, Allowed, fmt.Errorf("%w: max views must not be negative", ErrInvalidShareInput)
	}
	if in.ExpiresInHours < 0 {
		return nil, Allowed, fmt.Errorf("%w: expiry must not be negative", ErrInvalidShareInput)
	}
	if in.ExpiresInHours > MaxShareExpiryHours {
		return nil, Allowed, fmt.Errorf("%w: expiry must be at most %d hours", ErrInvalidShareInput, MaxShareExpiryHours)
	}
	refs, reason := targetsFor(in)
	if reason != Allowed {
		return nil, reason, nil
	}
	images, err := s.images.ResolveMany(ctx, refs)
	if err != nil {
		return nil, Allowed, storageErr("resolve share targets", err)
	}
	public := make(map[string]model.Image, len(images))
	for _, img := range images {
		if img.IsPublic {
			public[img.ID] = img
		}
	}
	for _, ref := range refs {
		if _, ok := public[ref]; !ok {
			return nil, ReasonInvalidTarget, nil
		}
	}

	now := s.now()
	link := &model.ShareLink{
		ShareType:     in.ShareType,
		Title:         in.Title,
		Description:   in.Description,
		MaxViews:      in.MaxViews,
		IsActive:      true,
		AllowDownload: in.AllowDownload == nil || *in.AllowDownload,
		CreatorIP:     in.CreatorIP,
	}
	if link.ShareType == "" {
		link.ShareType = model.ShareSingle
	}
	if link.ShareType == model.ShareSingle {
		id := refs[0]
		link.ImageID = &id
	} else {
		link.ImageIDs = refs
	}
	if link.Title == "" {
		if link.ShareType == model.ShareSingle {
			link.Title = public[refs[0]].Filename
		} else {
			link.Title = fmt.Sprintf("%d images", len(refs))
		}
	}
	if in.ExpiresInHours > 0 {
		expiresAt := now.Add(time.Duration(in.ExpiresInHours) * time.Hour)
		link.ExpiresAt = &expiresAt
	}
	if in.Password != "" {
		hash, err := s.hasher.Hash(in.Password)
		if err != nil {
			return nil, Allowed, fmt.Errorf("hash share password: %w", err)
		}
		link.PasswordHash = &hash
	}

	if err := s.insertWithFreshToken(ctx, link); err != nil {
		return nil, Allowed, err
	}
	if s.cache != nil {
		_ = s.cache.Delete(ctx, utils.BuildCacheKey(utils.CacheKeyShareMiss, link.Token))
	}
	s.logger.Info(ctx, "share created",
		"share_id", link.ID,
		"share_type", string(link.ShareType),
		"images", len(refs),
		"has_password", link.HasPassword(),
	)
	s.notify(ctx, link, in.NotifyEmails)
	return link, Allowed, nil
}

// insertWithFreshToken draws a new token for every attempt. A collision is never an overwrite.
func (s *ShareService) insertWithFreshToken(ctx context.Context, link *model.ShareLink) error {
	var lastErr error
	for attempt := 0; attempt < s.tokenRetries; attempt++ {
		link.Token = s.newToken()
		err := s.store.Create(ctx, link)
		if err == nil {
			return nil
		}
		if !errors.Is(err, repo.ErrDuplicateKey) {
			return storageErr("create share link", err)
		}
		lastErr = err
		s.logger.Warn(ctx, "share token collision", "attempt", attempt+1)
	}
	return storageErr("create share link", fmt.Errorf("no unique token after %d attempts: %w", s.tokenRetries, lastErr))
}

func (s *ShareService) notify(ctx context.Context, link *model.ShareLink, emails []string) {
	if len(emails) == 0 || s.mailer == nil || !s.mailer.Enabled() {
		return
	}
	url := s.ShareURL(link)
	title := link.Title
	recipients := dedupe(emails)
	requestID := logging.GetCorrelationID(ctx)
	s.async(func() {
		bg := logging.WithCorrelationID(context.Background(), requestID)
		for _, to := range recipients {
			if err := s.mailer.SendShareMail(to, title, url); err != nil {
				s.logger.Warn(bg, "share mail failed", "share_id", link.ID, "error", err.Error())
			}
		}
	})
}

// lookup finds a link by token, remembering unknown tokens for a short while.
func (s *ShareService) lookup(ctx context.Context, token string) (*model.ShareLink, error) {
	if token == "" {
		return nil, nil
	}
	missKey := utils.BuildCacheKey(utils.CacheKeyShareMiss, token)
	if s.cache != nil {
		if hit, err := s.cache.Exists(ctx, missKey); err == nil && hit {
			return nil, nil
		}
	}
	link, err := s.store.FindByToken(ctx, token)
	if err != nil {
		return nil, storageErr("find share link", err)
	}
	if link == nil && s.cache != nil {
		if err := s.cache.Set(ctx, missKey, true, s.missTTL); err != nil {
			s.logger.Debug(ctx, "cache share miss failed", "error", err.Error())
		}
	}
	return link, nil
}

// liveImages resolves refs to public images in ref order, dropping the ones that are gone.
func (s *ShareService) liveImages(ctx context.Context, refs []string) ([]model.Image, error) {
	found, err := s.images.ResolveMany(ctx, refs)
	if err != nil {
		return nil, storageErr("resolve share images", err)
	}
	byID := make(map[string]model.Image, len(found))
	for _, img := range found {
		if img.IsPublic {
			byID[img.ID] = img
		}
	}
	out := make([]model.Image, 0, len(refs))
	for _, ref := range refs {
		if img, ok := byID[ref]; ok {
			out = append(out, img)
		}
	}
	return out, nil
}

func imageIDs(images []model.Image) []string {
	ids := make([]string, 0, len(images))
	for _, img := range images {
		ids = append(ids, img.ID)
	}
	return ids
}

// ResolveAccess grants one view of the link behind token.
func (s *ShareService) ResolveAccess(ctx context.Context, token, password, ip, userAgent string) (*AccessResult, error) {
	link, err := s.lookup(ctx, token)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if reason := EvaluateShare(link, password, s.hasher, now); reason != Allowed {
		s.logger.LogShareDecision(ctx, "access", token, string(reason))
		return &AccessResult{Reason: reason}, nil
	}

	images, err := s.liveImages(ctx, link.TargetRefs())
	if err != nil {
		return nil, err
	}
	if len(images) == 0 {
		s.logger.LogShareDecision(ctx, "access", token, string(ReasonNotFound))
		return &AccessResult{Reason: ReasonNotFound}, nil
	}

	claimed, err := s.store.ClaimView(ctx, link.ID, now)
	if err != nil {
		return nil, storageErr("record share view", err)
	}
	if !claimed {
		reason := ReasonViewLimitReached
		if fresh, err := s.store.FindByID(ctx, link.ID); err == nil && fresh != nil {
			if r := accessDenial(fresh, now); r != Allowed {
				reason = r
			}
		}
		s.logger.LogShareDecision(ctx, "access", token, string(reason))
		return &AccessResult{Reason: reason}, nil
	}
	link.RecordView(now)

	// The view is claimed. Later bookkeeping failures are logged and the grant stands.
	entry := model.AccessEntry{AccessedAt: now, IP: ip, UserAgent: userAgent}
	if err := s.store.AppendAccess(ctx, link.ID, entry, model.MaxAccessLogEntries); err != nil {
		s.logger.Warn(ctx, "append share access failed", "share_id", link.ID, "error", err.Error())
	}
	if err := s.images.IncrementCounters(ctx, imageIDs(images), "view_count"); err != nil {
		s.logger.Warn(ctx, "count image views failed", "share_id", link.ID, "error", err.Error())
	} else {
		for i := range images {
			images[i].ViewCount++
		}
	}
	s.logger.LogShareDecision(ctx, "access", token, string(Allowed))
	return &AccessResult{Reason: Allowed, Share: newShareInfo(link), Images: images}, nil
}

// ResolveDownload grants a download of the link's images, or of the single targetID.
// Images whose stored object has vanished are skipped.
func (s *ShareService) ResolveDownload(ctx context.Context, token, password, targetID string) (*DownloadResult, error) {
	link, err := s.lookup(ctx, token)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if reason := EvaluateShareDownload(link, password, s.hasher, now); reason != Allowed {
		s.logger.LogShareDecision(ctx, "download", token, string(reason))
		return &DownloadResult{Reason: reason}, nil
	}
	refs := link.TargetRefs()
	if targetID != "" {
		if !link.HasTarget(targetID) {
			s.logger.LogShareDecision(ctx, "download", token, string(ReasonInvalidTarget))
			return &DownloadResult{Reason: ReasonInvalidTarget}, nil
		}
		refs = []string{targetID}
	}

	candidates, err := s.liveImages(ctx, refs)
	if err != nil {
		return nil, err
	}
	images := make([]model.Image, 0, len(candidates))
	for _, img := range candidates {
		if _, err := s.objects.StatObject(ctx, img.StoredFilename); err != nil {
			if storage.IsNotFound(err) {
				s.logger.Warn(ctx, "shared image object missing", "image_id", img.ID)
				continue
			}
			return nil, storageErr("stat shared image", err)
		}
		images = append(images, img)
	}
	if len(images) == 0 {
		s.logger.LogShareDecision(ctx, "download", token, string(ReasonNotFound))
		return &DownloadResult{Reason: ReasonNotFound}, nil
	}

	if err := s.store.IncrementCounter(ctx, link.ID, "download_count"); err != nil {
		return nil, storageErr("count share download", err)
	}
	link.RecordDownload()
	if err := s.images.IncrementCounters(ctx, imageIDs(images), "download_count"); err != nil {
		s.logger.Warn(ctx, "count image downloads failed", "share_id", link.ID, "error", err.Error())
	} else {
		for i := range images {
			images[i].DownloadCount++
		}
	}
	s.logger.LogShareDecision(ctx, "download", token, string(Allowed))
	return &DownloadResult{Reason: Allowed, Share: newShareInfo(link), Images: images}, nil
}

// OpenImage streams the stored original of a shared image.
func (s *ShareService) OpenImage(ctx context.Context, img model.Image) (io.ReadCloser, storage.ObjectInfo, error) {
	return s.objects.GetObject(ctx, img.StoredFilename)
}

func (s *ShareService) ListShares(ctx context.Context, page, limit int, sortBy, sortOrder string) (*ShareList, error) {
	page, limit = normalizePage(page, limit, 100)
	column, desc := sanitizeOrder(shareOrderBy, sortBy, sortOrder)
	links, total, err := s.store.List(ctx, page, limit, column, desc)
	if err != nil {
		return nil, storageErr("list share links", err)
	}
	views := make([]ShareView, 0, len(links))
	for i := range links {
		views = append(views, *s.view(&links[i]))
	}
	return &ShareList{ShareLinks: views, Pagination: newPagination(page, limit, total)}, nil
}

func (s *ShareService) mustFind(ctx context.Context, id string) (*model.ShareLink, error) {
	link, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, storageErr("find share link", err)
	}
	if link == nil {
		return nil, ErrShareNotFound
	}
	return link, nil
}

func (s *ShareService) GetShare(ctx context.Context, id string) (*ShareView, error) {
	link, err := s.mustFind(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.view(link), nil
}

// SetShareActive revokes or reactivates a link.
func (s *ShareService) SetShareActive(ctx context.Context, id string, active bool) (*ShareView, error) {
	link, err := s.mustFind(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.store.SetActive(ctx, id, active); err != nil {
		return nil, storageErr("update share link", err)
	}
	link.IsActive = active
	s.logger.Info(ctx, "share active changed", "share_id", id, "active", active)
	return s.view(link), nil
}

func (s *ShareService) DeleteShare(ctx context.Context, id string) error {
	if _, err := s.mustFind(ctx, id); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return storageErr("delete share link", err)
	}
	s.logger.Info(ctx, "share deleted", "share_id", id)
	return nil
}

// ListAccessLog returns the recorded accesses of a link, oldest first.
func (s *ShareService) ListAccessLog(ctx context.Context, id string) ([]model.AccessEntry, error) {
	if _, err := s.mustFind(ctx, id); err != nil {
		return nil, err
	}
	entries, err := s.store.ListAccessLog(ctx, id)
	if err != nil {
		return nil, storageErr("list share access log", err)
	}
	return entries, nil
}
