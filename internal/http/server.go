// README: API server; builds the gin router over module services and runs it until shutdown.
package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"hometaste/internal/http/handlers"
	"hometaste/internal/infra"
	"hometaste/internal/modules/assignment"
	"hometaste/internal/modules/earnings"
	"hometaste/internal/modules/location"
	"hometaste/internal/modules/meal"
	"hometaste/internal/modules/order"
	"hometaste/internal/modules/user"
)

const shutdownGrace = 10 * time.Second

type ServerDeps struct {
	Verifier   infra.TokenVerifier
	Users      *user.Service
	Meals      *meal.Service
	Orders     *order.Service
	Assignment *assignment.Service
	Earnings   *earnings.Service
	Location   *location.Service
	Tracker    handlers.Subscriber
}

type Server struct {
	srv *http.Server
	log logrus.FieldLogger
}

func NewServer(addr string, deps ServerDeps, log logrus.FieldLogger) *Server {
	gin.SetMode(gin.ReleaseMode)
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           newRouter(deps, log),
			ReadHeaderTimeout: 10 * time.Second,
		},
		log: log,
	}
}

func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		s.log.WithField("addr", s.srv.Addr).Info("http server listening")
		errc <- s.srv.ListenAndServe()
	}()
	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	return s.srv.Shutdown(shutdownCtx)
}
