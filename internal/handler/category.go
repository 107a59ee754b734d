package handler

import (
	"net/http"

	"Go_Pic/internal/dto"
	"Go_Pic/internal/logging"
	"Go_Pic/internal/service"
	"Go_Pic/utils"

	"github.com/gin-gonic/gin"
)

type CategoryHandler struct {
	categories *service.CategoryService
	logger     *logging.Logger
}

func NewCategoryHandler(categories *service.CategoryService, logger *logging.Logger) *CategoryHandler {
	if logger == nil {
		logger = logging.Discard()
	}
	return &CategoryHandler{categories: categories, logger: logger}
}

// Tree returns the active category tree.
func (h *CategoryHandler) Tree(c *gin.Context) {
	tree, err := h.categories.Tree(c.Request.Context())
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	utils.Success(c, tree)
}

func (h *CategoryHandler) Get(c *gin.Context) {
	detail, err := h.categories.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	utils.Success(c, detail)
}

func (h *CategoryHandler) Create(c *gin.Context) {
	var req dto.CreateCategoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.Fail(c, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}
	category, err := h.categories.Create(c.Request.Context(), service.CategoryInput{
		Name:        req.Name,
		Description: req.Description,
		Color:       req.Color,
		Icon:        req.Icon,
		ParentID:    req.ParentID,
		SortOrder:   req.SortOrder,
	})
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	utils.Created(c, category, "category created")
}

// Update applies a typed partial update.
func (h *CategoryHandler) Update(c *gin.Context) {
	var req dto.UpdateCategoryRequest
	if err := bindStrict(c, &req); err != nil {
		utils.Fail(c, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}
	category, err := h.categories.Update(c.Request.Context(), c.Param("id"), service.CategoryUpdate{
		Name:        req.Name,
		Description: req.Description,
		Color:       req.Color,
		Icon:        req.Icon,
		ParentID:    req.ParentID,
		SortOrder:   req.SortOrder,
		IsActive:    req.IsActive,
	})
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	utils.Success(c, category)
}

func (h *CategoryHandler) Delete(c *gin.Context) {
	if err := h.categories.Delete(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, h.logger, err)
		return
	}
	utils.Message(c, "category deleted")
}

// Images pages through the public images of a category.
func (h *CategoryHandler) Images(c *gin.Context) {
	var q dto.PageQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		utils.Fail(c, http.StatusBadRequest, "invalid query: "+err.Error())
		return
	}
	list, err := h.categories.Images(c.Request.Context(), c.Param("id"), q.Page, q.Limit, q.SortBy, q.SortOrder)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	utils.Success(c, list)
}
