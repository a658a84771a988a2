// README: Meal catalog handlers: browse, create, edit, deactivate and review.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"hometaste/internal/modules/meal"
	"hometaste/internal/types"
)

type MealHandler struct {
	meals *meal.Service
}

func NewMealHandler(svc *meal.Service) *MealHandler {
	return &MealHandler{meals: svc}
}

func mealFilter(c *gin.Context) meal.Filter {
	return meal.Filter{
		Category: c.Query("category"),
		Cuisine:  c.Query("cuisine"),
		FoodType: c.Query("foodType"),
		City:     c.Query("city"),
		Search:   c.Query("search"),
		Page:     queryInt(c, "page", 1),
		Limit:    queryInt(c, "limit", 0),
	}
}

func (h *MealHandler) list(c *gin.Context, f meal.Filter) {
	meals, total, err := h.meals.List(c.Request.Context(), f)
	if err != nil {
		writeError(c, err)
		return
	}
	if meals == nil {
		meals = []*meal.Meal{}
	}
	writeJSON(c, http.StatusOK, gin.H{"meals": meals, "total": total, "page": f.Page})
}

func (h *MealHandler) List(c *gin.Context) {
	h.list(c, mealFilter(c))
}

func (h *MealHandler) ByKitchen(c *gin.Context) {
	id, ok := pathID(c, "kitchenId")
	if !ok {
		return
	}
	f := mealFilter(c)
	f.KitchenID = id
	h.list(c, f)
}

func (h *MealHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	m, err := h.meals.Get(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"meal": m})
}

type createMealReq struct {
	KitchenID          string           `json:"homeKitchen"`
	Name               string           `json:"name"`
	Description        string           `json:"description"`
	Price              int64            `json:"price"`
	Category           string           `json:"category"`
	Cuisine            string           `json:"cuisine"`
	FoodType           string           `json:"foodType"`
	Tags               []string         `json:"tags"`
	PreparationMinutes int              `json:"preparationTime"`
	Slots              []meal.SlotInput `json:"timeSlots"`
}

// Create lists a meal for the calling kitchen; admins may name the kitchen.
func (h *MealHandler) Create(c *gin.Context) {
	var req createMealReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badJSON(c)
		return
	}
	kitchen := callerID(c)
	if actor(c).Admin() && req.KitchenID != "" {
		kitchen = types.ID(req.KitchenID)
	}
	m, err := h.meals.Create(c.Request.Context(), meal.CreateCommand{
		KitchenID:          kitchen,
		Name:               req.Name,
		Description:        req.Description,
		Price:              req.Price,
		Category:           req.Category,
		Cuisine:            req.Cuisine,
		FoodType:           req.FoodType,
		Tags:               req.Tags,
		PreparationMinutes: req.PreparationMinutes,
		Slots:              req.Slots,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, gin.H{"message": "Meal created successfully", "meal": m})
}

type updateMealReq struct {
	Name               *string          `json:"name"`
	Description        *string          `json:"description"`
	Price              *int64           `json:"price"`
	Category           *string          `json:"category"`
	Cuisine            *string          `json:"cuisine"`
	FoodType           *string          `json:"foodType"`
	Tags               []string         `json:"tags"`
	PreparationMinutes *int             `json:"preparationTime"`
	Slots              []meal.SlotInput `json:"timeSlots"`
}

func (h *MealHandler) Update(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req updateMealReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badJSON(c)
		return
	}
	a := actor(c)
	m, err := h.meals.Update(c.Request.Context(), meal.UpdateCommand{
		MealID:             id,
		ActorID:            a.ID,
		Admin:              a.Admin(),
		Name:               req.Name,
		Description:        req.Description,
		Price:              req.Price,
		Category:           req.Category,
		Cuisine:            req.Cuisine,
		FoodType:           req.FoodType,
		Tags:               req.Tags,
		PreparationMinutes: req.PreparationMinutes,
		Slots:              req.Slots,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"message": "Meal updated successfully", "meal": m})
}

func (h *MealHandler) Deactivate(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	a := actor(c)
	if err := h.meals.Deactivate(c.Request.Context(), id, a.ID, a.Admin()); err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"message": "Meal removed"})
}

type reviewReq struct {
	Rating  int    `json:"rating"`
	Comment string `json:"comment"`
}

func (h *MealHandler) Review(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req reviewReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badJSON(c)
		return
	}
	r, err := h.meals.Review(c.Request.Context(), meal.ReviewCommand{
		MealID:  id,
		UserID:  callerID(c),
		Rating:  req.Rating,
		Comment: req.Comment,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, gin.H{"message": "Review added", "rating": r})
}
