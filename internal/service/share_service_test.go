package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"Go_Pic/config"
	"Go_Pic/internal/repo"
	"Go_Pic/internal/testutil"
	"Go_Pic/model"
	"Go_Pic/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMailer struct {
	mu   sync.Mutex
	sent []string
}

func (m *fakeMailer) Enabled() bool { return true }

func (m *fakeMailer) SendShareMail(to, title, link string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, to+"|"+title+"|"+link)
	return nil
}

type shareFixture struct {
	svc     *ShareService
	shares  *repo.ShareStore
	images  *repo.ImageStore
	objects *testutil.MemoryStore
	cache   *testutil.MemoryCache
	mailer  *fakeMailer
}

func newShareFixture(t *testing.T) *shareFixture {
	t.Helper()
	db := testutil.NewDB(t)
	f := &shareFixture{
		shares:  repo.NewShareStore(db),
		images:  repo.NewImageStore(db),
		objects: testutil.NewMemoryStore(),
		cache:   testutil.NewMemoryCache(),
		mailer:  &fakeMailer{},
	}
	cfg := config.Config{ShareBaseURL: "http://pics.test", ShareTokenRetries: 3}
	f.svc = NewShareService(cfg, ShareDeps{
		Store:   f.shares,
		Images:  f.images,
		Objects: f.objects,
		Hasher:  testutil.PlainHasher{},
		Cache:   f.cache,
		Mailer:  f.mailer,
	})
	f.svc.async = func(fn func()) { fn() }
	return f
}

func (f *shareFixture) seedImage(t *testing.T, name string, public bool) *model.Image {
	t.Helper()
	img := &model.Image{
		Filename:       name,
		StoredFilename: "2024-05/" + name,
		MimeType:       "image/jpeg",
		Size:           3,
		IsPublic:       public,
	}
	require.NoError(t, f.images.Create(context.Background(), img))
	f.objects.Put(img.StoredFilename, []byte("img"))
	return img
}

func (f *shareFixture) create(t *testing.T, in CreateShareInput) *model.ShareLink {
	t.Helper()
	link, reason, err := f.svc.CreateShare(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, Allowed, reason)
	return link
}

func intPtr(v int) *int { return &v }

func boolPtr(v bool) *bool { return &v }

func TestSingleShareFirstAccess(t *testing.T) {
	ctx := context.Background()
	f := newShareFixture(t)
	img := f.seedImage(t, "a.jpg", true)

	link := f.create(t, CreateShareInput{ShareType: model.ShareSingle, ImageID: img.ID})
	assert.Equal(t, "a.jpg", link.Title)
	assert.Zero(t, link.ViewCount)
	assert.Zero(t, link.DownloadCount)
	assert.True(t, link.AllowDownload)
	assert.Equal(t, "http://pics.test/api/share/"+link.Token, f.svc.ShareURL(link))

	res, err := f.svc.ResolveAccess(ctx, link.Token, "", "10.0.0.1", "ua")
	require.NoError(t, err)
	require.Equal(t, Allowed, res.Reason)
	require.Len(t, res.Images, 1)
	assert.Equal(t, img.ID, res.Images[0].ID)
	assert.Equal(t, 1, res.Share.ViewCount)

	stored, err := f.shares.FindByToken(ctx, link.Token)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.ViewCount)
	assert.NotNil(t, stored.LastAccessedAt)

	entries, err := f.svc.ListAccessLog(ctx, link.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "10.0.0.1", entries[0].IP)

	reloaded, err := f.images.FindByID(ctx, img.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, reloaded.ViewCount)
}

func TestBatchShareWithPassword(t *testing.T) {
	ctx := context.Background()
	f := newShareFixture(t)
	a := f.seedImage(t, "a.jpg", true)
	b := f.seedImage(t, "b.jpg", true)
	c := f.seedImage(t, "c.jpg", true)

	link := f.create(t, CreateShareInput{
		ShareType: model.ShareBatch,
		ImageIDs:  []string{a.ID, b.ID, c.ID},
		Password:  "abc",
	})
	assert.Equal(t, "3 images", link.Title)
	assert.True(t, link.HasPassword())

	res, err := f.svc.ResolveAccess(ctx, link.Token, "", "", "")
	require.NoError(t, err)
	assert.Equal(t, ReasonPasswordRequired, res.Reason)

	res, err = f.svc.ResolveAccess(ctx, link.Token, "wrong", "", "")
	require.NoError(t, err)
	assert.Equal(t, ReasonPasswordMismatch, res.Reason)

	res, err = f.svc.ResolveAccess(ctx, link.Token, "abc", "", "")
	require.NoError(t, err)
	require.Equal(t, Allowed, res.Reason)
	require.Len(t, res.Images, 3)
	assert.Equal(t, []string{a.ID, b.ID, c.ID}, imageIDs(res.Images))

	stored, err := f.shares.FindByID(ctx, link.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.ViewCount, "denied attempts must not count")
}

func TestMaxViewsOne(t *testing.T) {
	ctx := context.Background()
	f := newShareFixture(t)
	img := f.seedImage(t, "a.jpg", true)
	link := f.create(t, CreateShareInput{ShareType: model.ShareSingle, ImageID: img.ID, MaxViews: intPtr(1)})

	res, err := f.svc.ResolveAccess(ctx, link.Token, "", "", "")
	require.NoError(t, err)
	require.Equal(t, Allowed, res.Reason)
	assert.Equal(t, 1, res.Share.ViewCount)

	res, err = f.svc.ResolveAccess(ctx, link.Token, "", "", "")
	require.NoError(t, err)
	assert.Equal(t, ReasonViewLimitReached, res.Reason)
}

func TestConcurrentAccessNeverExceedsMaxViews(t *testing.T) {
	ctx := context.Background()
	f := newShareFixture(t)
	img := f.seedImage(t, "a.jpg", true)
	link := f.create(t, CreateShareInput{ShareType: model.ShareSingle, ImageID: img.ID, MaxViews: intPtr(3)})

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.svc.ResolveAccess(ctx, link.Token, "", "", "")
			if err != nil || res.Reason != Allowed {
				return
			}
			mu.Lock()
			allowed++
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 3, allowed)

	stored, err := f.shares.FindByID(ctx, link.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, stored.ViewCount)
}

func TestCreateShareRejectsBadTargets(t *testing.T) {
	ctx := context.Background()
	f := newShareFixture(t)
	pub := f.seedImage(t, "pub.jpg", true)
	priv := f.seedImage(t, "priv.jpg", false)

	cases := []struct {
		name string
		in   CreateShareInput
	}{
		{"single with list", CreateShareInput{ShareType: model.ShareSingle, ImageIDs: []string{pub.ID}}},
		{"single without id", CreateShareInput{ShareType: model.ShareSingle}},
		{"batch with single id", CreateShareInput{ShareType: model.ShareBatch, ImageID: pub.ID}},
		{"batch empty", CreateShareInput{ShareType: model.ShareBatch, ImageIDs: []string{}}},
		{"batch mixed", CreateShareInput{ShareType: model.ShareBatch, ImageID: pub.ID, ImageIDs: []string{pub.ID}}},
		{"unknown type", CreateShareInput{ShareType: "album", ImageID: pub.ID}},
		{"private image", CreateShareInput{ShareType: model.ShareSingle, ImageID: priv.ID}},
		{"missing image", CreateShareInput{ShareType: model.ShareGallery, ImageIDs: []string{pub.ID, "nope"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			link, reason, err := f.svc.CreateShare(ctx, tc.in)
			require.NoError(t, err)
			assert.Equal(t, ReasonInvalidTarget, reason)
			assert.Nil(t, link)
		})
	}

	list, err := f.svc.ListShares(ctx, 1, 10, "", "")
	require.NoError(t, err)
	assert.Zero(t, list.Pagination.Total, "rejected creates persist nothing")
}

func TestCreateShareValidatesNumbers(t *testing.T) {
	f := newShareFixture(t)
	img := f.seedImage(t, "a.jpg", true)
	ctx := context.Background()
	_, _, err := f.svc.CreateShare(ctx, CreateShareInput{ImageID: img.ID, MaxViews: intPtr(-1)})
	assert.ErrorIs(t, err, ErrInvalidShareInput)

	_, _, err = f.svc.CreateShare(ctx, CreateShareInput{ImageID: img.ID, ExpiresInHours: -1})
	assert.ErrorIs(t, err, ErrInvalidShareInput)

	for _, hours := range []int{MaxShareExpiryHours + 1, 3000000, math.MaxInt} {
		link, _, err := f.svc.CreateShare(ctx, CreateShareInput{ImageID: img.ID, ExpiresInHours: hours})
		assert.ErrorIs(t, err, ErrInvalidShareInput, hours)
		assert.Nil(t, link)
	}
}

func TestCreateShareLongestExpiryIsInTheFuture(t *testing.T) {
	ctx := context.Background()
	f := newShareFixture(t)
	img := f.seedImage(t, "a.jpg", true)

	link := f.create(t, CreateShareInput{ImageID: img.ID, ExpiresInHours: MaxShareExpiryHours})
	require.NotNil(t, link.ExpiresAt)
	assert.True(t, link.ExpiresAt.After(time.Now().AddDate(99, 0, 0)))

	res, err := f.svc.ResolveAccess(ctx, link.Token, "", "1.2.3.4", "ua")
	require.NoError(t, err)
	assert.Equal(t, Allowed, res.Reason)
}

func TestCreateShareDedupesAndDefaults(t *testing.T) {
	f := newShareFixture(t)
	a := f.seedImage(t, "a.jpg", true)
	b := f.seedImage(t, "b.jpg", true)
	before := time.Now()

	link := f.create(t, CreateShareInput{
		ShareType:      model.ShareGallery,
		ImageIDs:       []string{b.ID, a.ID, b.ID},
		ExpiresInHours: 2,
		AllowDownload:  boolPtr(false),
		NotifyEmails:   []string{"x@example.com", "x@example.com"},
	})
	assert.Equal(t, []string{b.ID, a.ID}, link.ImageIDs)
	assert.Equal(t, "2 images", link.Title)
	assert.False(t, link.AllowDownload)
	require.NotNil(t, link.ExpiresAt)
	assert.WithinDuration(t, before.Add(2*time.Hour), *link.ExpiresAt, time.Minute)
	assert.Len(t, f.mailer.sent, 1)

	stored, err := f.shares.FindByID(context.Background(), link.ID)
	require.NoError(t, err)
	assert.False(t, stored.AllowDownload)
	assert.True(t, stored.IsActive)
}

func TestCreateShareRegeneratesCollidingToken(t *testing.T) {
	ctx := context.Background()
	f := newShareFixture(t)
	img := f.seedImage(t, "a.jpg", true)

	tokens := []string{"taken", "taken", "fresh"}
	calls := 0
	f.svc.newToken = func() string {
		tok := tokens[calls%len(tokens)]
		calls++
		return tok
	}
	first := f.create(t, CreateShareInput{ImageID: img.ID})
	assert.Equal(t, "taken", first.Token)

	second := f.create(t, CreateShareInput{ImageID: img.ID})
	assert.Equal(t, "fresh", second.Token)

	stored, err := f.shares.FindByToken(ctx, "taken")
	require.NoError(t, err)
	assert.Equal(t, first.ID, stored.ID, "collision must not overwrite")

	f.svc.newToken = func() string { return "taken" }
	_, _, err = f.svc.CreateShare(ctx, CreateShareInput{ImageID: img.ID})
	assert.ErrorIs(t, err, ErrStorage)
}

func TestResolveAccessDegradesGracefully(t *testing.T) {
	ctx := context.Background()
	f := newShareFixture(t)
	a := f.seedImage(t, "a.jpg", true)
	b := f.seedImage(t, "b.jpg", true)
	link := f.create(t, CreateShareInput{ShareType: model.ShareBatch, ImageIDs: []string{a.ID, b.ID}})

	b.IsPublic = false
	require.NoError(t, f.images.Save(ctx, b, "is_public"))

	res, err := f.svc.ResolveAccess(ctx, link.Token, "", "", "")
	require.NoError(t, err)
	require.Equal(t, Allowed, res.Reason)
	assert.Equal(t, []string{a.ID}, imageIDs(res.Images))

	a.IsPublic = false
	require.NoError(t, f.images.Save(ctx, a, "is_public"))
	res, err = f.svc.ResolveAccess(ctx, link.Token, "", "", "")
	require.NoError(t, err)
	assert.Equal(t, ReasonNotFound, res.Reason)

	stored, err := f.shares.FindByID(ctx, link.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.ViewCount)
}

func TestResolveAccessUnknownTokenIsCached(t *testing.T) {
	ctx := context.Background()
	f := newShareFixture(t)

	res, err := f.svc.ResolveAccess(ctx, "ghost", "", "", "")
	require.NoError(t, err)
	assert.Equal(t, ReasonNotFound, res.Reason)

	hit, err := f.cache.Exists(ctx, utils.BuildCacheKey(utils.CacheKeyShareMiss, "ghost"))
	require.NoError(t, err)
	assert.True(t, hit)
}

func TestResolveAccessLifecycleDenials(t *testing.T) {
	ctx := context.Background()
	f := newShareFixture(t)
	img := f.seedImage(t, "a.jpg", true)

	link := f.create(t, CreateShareInput{ImageID: img.ID})
	_, err := f.svc.SetShareActive(ctx, link.ID, false)
	require.NoError(t, err)
	res, err := f.svc.ResolveAccess(ctx, link.Token, "", "", "")
	require.NoError(t, err)
	assert.Equal(t, ReasonInactive, res.Reason)

	expiring := f.create(t, CreateShareInput{ImageID: img.ID, ExpiresInHours: 1})
	f.svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	res, err = f.svc.ResolveAccess(ctx, expiring.Token, "", "", "")
	require.NoError(t, err)
	assert.Equal(t, ReasonExpired, res.Reason)
}

func TestResolveDownload(t *testing.T) {
	ctx := context.Background()
	f := newShareFixture(t)
	a := f.seedImage(t, "a.jpg", true)
	b := f.seedImage(t, "b.jpg", true)
	other := f.seedImage(t, "other.jpg", true)
	link := f.create(t, CreateShareInput{ShareType: model.ShareBatch, ImageIDs: []string{a.ID, b.ID}, Password: "pw"})

	res, err := f.svc.ResolveDownload(ctx, link.Token, "", "")
	require.NoError(t, err)
	assert.Equal(t, ReasonPasswordRequired, res.Reason)

	res, err = f.svc.ResolveDownload(ctx, link.Token, "pw", other.ID)
	require.NoError(t, err)
	assert.Equal(t, ReasonInvalidTarget, res.Reason)

	require.NoError(t, f.objects.RemoveObject(ctx, b.StoredFilename))
	res, err = f.svc.ResolveDownload(ctx, link.Token, "pw", "")
	require.NoError(t, err)
	require.Equal(t, Allowed, res.Reason)
	assert.Equal(t, []string{a.ID}, imageIDs(res.Images))
	assert.Equal(t, 1, res.Share.DownloadCount)

	res, err = f.svc.ResolveDownload(ctx, link.Token, "pw", b.ID)
	require.NoError(t, err)
	assert.Equal(t, ReasonNotFound, res.Reason)

	stored, err := f.shares.FindByID(ctx, link.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.DownloadCount)
	assert.Zero(t, stored.ViewCount)

	reloaded, err := f.images.FindByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, reloaded.DownloadCount)
}

func TestResolveDownloadNotPermitted(t *testing.T) {
	f := newShareFixture(t)
	img := f.seedImage(t, "a.jpg", true)
	link := f.create(t, CreateShareInput{ImageID: img.ID, AllowDownload: boolPtr(false)})

	res, err := f.svc.ResolveDownload(context.Background(), link.Token, "", "")
	require.NoError(t, err)
	assert.Equal(t, ReasonDownloadNotPermitted, res.Reason)
}

func TestShareManagement(t *testing.T) {
	ctx := context.Background()
	f := newShareFixture(t)
	img := f.seedImage(t, "a.jpg", true)
	for i := 0; i < 3; i++ {
		f.create(t, CreateShareInput{ImageID: img.ID, Title: fmt.Sprintf("share %d", i)})
	}

	list, err := f.svc.ListShares(ctx, 1, 2, "title", "asc")
	require.NoError(t, err)
	assert.Equal(t, Pagination{Page: 1, Limit: 2, Total: 3, Pages: 2}, list.Pagination)
	require.Len(t, list.ShareLinks, 2)
	assert.Equal(t, "share 0", list.ShareLinks[0].Title)
	assert.Contains(t, list.ShareLinks[0].URL, "/api/share/")

	id := list.ShareLinks[0].ID
	view, err := f.svc.GetShare(ctx, id)
	require.NoError(t, err)
	assert.False(t, view.HasPassword)

	require.NoError(t, f.svc.DeleteShare(ctx, id))
	_, err = f.svc.GetShare(ctx, id)
	assert.True(t, errors.Is(err, ErrShareNotFound))
	assert.ErrorIs(t, f.svc.DeleteShare(ctx, id), ErrShareNotFound)
}

type failingAppendStore struct {
	ShareStore
}

func (failingAppendStore) AppendAccess(ctx context.Context, id string, entry model.AccessEntry, capacity int) error {
	return errors.New("log table locked")
}

type failingCounters struct {
	ImageResolver
}

func (failingCounters) IncrementCounters(ctx context.Context, ids []string, field string) error {
	return errors.New("counter update failed")
}

func TestAccessGrantSurvivesBookkeepingFailures(t *testing.T) {
	ctx := context.Background()
	f := newShareFixture(t)
	img := f.seedImage(t, "a.jpg", true)
	link := f.create(t, CreateShareInput{ImageID: img.ID, MaxViews: intPtr(2)})

	svc := NewShareService(config.Config{ShareBaseURL: "http://pics.test"}, ShareDeps{
		Store:   failingAppendStore{ShareStore: f.shares},
		Images:  failingCounters{ImageResolver: f.images},
		Objects: f.objects,
		Hasher:  testutil.PlainHasher{},
	})

	res, err := svc.ResolveAccess(ctx, link.Token, "", "1.2.3.4", "ua")
	require.NoError(t, err)
	assert.Equal(t, Allowed, res.Reason)
	assert.Equal(t, 1, res.Share.ViewCount)
	require.Len(t, res.Images, 1)

	stored, err := f.shares.FindByID(ctx, link.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.ViewCount, "the claimed view stays counted")

	dl, err := svc.ResolveDownload(ctx, link.Token, "", "")
	require.NoError(t, err)
	assert.Equal(t, Allowed, dl.Reason)
}
