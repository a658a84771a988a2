// README: HTTP router registration.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"hometaste/internal/http/handlers"
	"hometaste/internal/http/middleware"
	"hometaste/internal/modules/user"
)

func newRouter(deps ServerDeps, log logrus.FieldLogger) *gin.Engine {
	r := gin.New()
	r.Use(middleware.Recovery(log), middleware.Logging(log))

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	meals := handlers.NewMealHandler(deps.Meals)
	orders := handlers.NewOrderHandler(deps.Orders, deps.Tracker)
	delivery := handlers.NewDeliveryHandler(deps.Assignment, deps.Earnings)
	loc := handlers.NewLocationHandler(deps.Location)
	users := handlers.NewUserHandler(deps.Users)

	api := r.Group("/api")
	api.GET("/meals", meals.List)
	api.GET("/meals/kitchen/:kitchenId", meals.ByKitchen)
	api.GET("/meals/:id", meals.Get)

	authed := api.Group("", middleware.Auth(deps.Verifier), middleware.Resolve(deps.Users))
	authed.POST("/users/register", users.Register)
	authed.GET("/users/me", users.Me)
	authed.GET("/users/profile", users.Me)
	authed.PUT("/users/profile", users.UpdateProfile)
	authed.PUT("/users/me/device-token", users.SetDeviceToken)
	authed.GET("/users", middleware.RequireRole(user.RoleAdmin), users.List)

	cooks := middleware.RequireRole(user.RoleKitchen, user.RoleAdmin)
	authed.POST("/meals", cooks, meals.Create)
	authed.PUT("/meals/:id", cooks, meals.Update)
	authed.DELETE("/meals/:id", cooks, meals.Deactivate)
	authed.POST("/meals/:id/review", middleware.RequireRole(user.RoleCustomer), meals.Review)

	customer := middleware.RequireRole(user.RoleCustomer)
	authed.POST("/orders", customer, orders.Place)
	authed.GET("/orders", customer, orders.List)
	authed.GET("/orders/kitchen/orders", middleware.RequireRole(user.RoleKitchen), orders.KitchenOrders)
	authed.GET("/orders/:id", orders.Get)
	authed.GET("/orders/:id/events", orders.Events)
	authed.PUT("/orders/:id/status",
		middleware.RequireRole(user.RoleKitchen, user.RoleDeliveryPartner, user.RoleAdmin), orders.UpdateStatus)
	authed.PUT("/orders/:id/cancel", orders.Cancel)
	authed.POST("/orders/:id/rate", customer, orders.Rate)

	partner := authed.Group("/delivery", middleware.RequireRole(user.RoleDeliveryPartner, user.RoleAdmin))
	partner.GET("/available-orders", delivery.Available)
	partner.POST("/accept/:orderId", delivery.Accept)
	partner.PUT("/complete/:orderId", delivery.Complete)
	partner.POST("/complete/:orderId", delivery.Complete)
	partner.GET("/active", delivery.Active)
	partner.GET("/history", delivery.History)
	partner.GET("/earnings", delivery.Earnings)
	partner.PUT("/update-location", loc.Update)

	return r
}
