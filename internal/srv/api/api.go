package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/jypelle/authbox/apimodel"
	"github.com/jypelle/authbox/internal/srv/config"
	"github.com/jypelle/authbox/internal/srv/display"
	"github.com/jypelle/authbox/internal/srv/event"
	"github.com/jypelle/authbox/internal/tool"
	"github.com/sirupsen/logrus"
)

var ErrMissingApiKey = errors.New("api key must be set to enable the api")

// Controller is the application side of the api.
// Its methods are only called from dispatcher actions.
type Controller interface {
	Unlock(holder string) error
	ShowState(state string, bindings display.Bindings) error
	Stats() apimodel.AccessStats
}

type Api struct {
	router    *mux.Router
	apiRouter *mux.Router
	server    *http.Server

	configDir  string
	param      config.ApiParam
	queue      *event.Queue
	controller Controller
}

func NewApi(configDir string, param config.ApiParam, queue *event.Queue, controller Controller) *Api {
	api := &Api{
		configDir:  configDir,
		param:      param,
		queue:      queue,
		controller: controller,
	}

	api.router = mux.NewRouter().StrictSlash(false)

	api.apiRouter = api.router.PathPrefix("/api").Subrouter()
	api.apiRouter.NotFoundHandler = http.HandlerFunc(ErrorNotFoundAction)
	api.apiRouter.MethodNotAllowedHandler = http.HandlerFunc(ErrorMethodNotAllowedAction)

	// Auth middleware
	api.apiRouter.Use(
		func(handler http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				defer func() {
					if rec := recover(); rec != nil {
						logrus.Warningf("recovered from panic : [%v] - stack trace : \n [%s]", rec, debug.Stack())
						GlobalErrorAction(w, fmt.Sprintf("%v", rec), http.StatusInternalServerError)
					}
				}()

				// Check API Key
				apiKey := r.Header.Get("x-api-key")
				if api.param.ApiKey == "" || apiKey != api.param.ApiKey {
					ErrorStatusAction(w, r, http.StatusForbidden)
					return
				}

				logrus.Debugf("PATH: %s %s", r.Host, r.URL.Path)

				handler.ServeHTTP(w, r)
			})
		})

	api.apiRouter.HandleFunc("/is_alive",
		func(w http.ResponseWriter, r *http.Request) {
			ErrorStatusAction(w, r, http.StatusOK)
		}).Methods("GET")

	api.apiRouter.HandleFunc("/stats",
		func(w http.ResponseWriter, r *http.Request) {
			var stats apimodel.AccessStats
			err := api.call(r.Context(), "api.stats", func() error {
				stats = api.controller.Stats()
				return nil
			})
			if err != nil {
				api.replyError(w, r, err)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			if err := json.NewEncoder(w).Encode(stats); err != nil {
				logrus.Warnf("Unable to encode stats: %v", err)
			}
		}).Methods("GET")

	api.apiRouter.HandleFunc("/unlock",
		func(w http.ResponseWriter, r *http.Request) {
			holder := r.URL.Query().Get("holder")
			if holder == "" {
				holder = "api"
			}
			err := api.call(r.Context(), "api.unlock", func() error {
				return api.controller.Unlock(holder)
			})
			api.reply(w, r, err)
		}).Methods("POST")

	api.apiRouter.HandleFunc("/display/{state}",
		func(w http.ResponseWriter, r *http.Request) {
			state, ok := mux.Vars(r)["state"]
			if !ok {
				ErrorStatusAction(w, r, http.StatusBadRequest)
				return
			}
			values := make(map[string]string)
			for key, v := range r.URL.Query() {
				if len(v) > 0 {
					values[key] = v[len(v)-1]
				}
			}
			err := api.call(r.Context(), "api.display", func() error {
				return api.controller.ShowState(state, display.Literals(values))
			})
			api.reply(w, r, err)
		}).Methods("POST")

	api.apiRouter.HandleFunc("/shutdown",
		func(w http.ResponseWriter, r *http.Request) {
			logrus.Infof("Shutdown requested through api")
			api.queue.Shutdown()
			ErrorStatusAction(w, r, http.StatusOK)
		}).Methods("POST")

	headersOk := handlers.AllowedHeaders([]string{"x-api-key"})
	originsOk := handlers.AllowedOrigins([]string{"*"})
	methodsOk := handlers.AllowedMethods([]string{"GET", "POST", "OPTIONS"})

	api.server = &http.Server{
		Addr:         ":" + strconv.FormatInt(param.SslPort, 10),
		Handler:      api.Handler(headersOk, originsOk, methodsOk),
		ReadTimeout:  time.Second * 30,
		WriteTimeout: time.Second * 30,
		IdleTimeout:  time.Second * 240,
	}

	return api
}

// Handler wraps the router with the CORS and compression middlewares.
func (a *Api) Handler(corsOptions ...handlers.CORSOption) http.Handler {
	return handlers.CompressHandler(handlers.CORS(corsOptions...)(a.router))
}

// call runs fn as a dispatcher action and waits for its result.
func (a *Api) call(ctx context.Context, name string, fn func() error) error {
	result := make(chan error, 1)
	a.queue.Push(event.NewAction(name, func(...interface{}) error {
		err := fn()
		result <- err
		return err
	}))
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Api) reply(w http.ResponseWriter, r *http.Request, err error) {
	if err != nil {
		a.replyError(w, r, err)
		return
	}
	ErrorStatusAction(w, r, http.StatusOK)
}

func (a *Api) replyError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, display.ErrUnknownState):
		apimodel.UnknownStateErrorMessage.SendError(w)
	case errors.Is(err, display.ErrMissingBinding):
		GlobalErrorAction(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		ErrorStatusAction(w, r, http.StatusServiceUnavailable)
	default:
		GlobalErrorAction(w, err.Error(), http.StatusForbidden)
	}
}

// Start launches the https server, generating a self-signed certificate on first run.
func (a *Api) Start() error {
	logrus.Infof("Start api")

	if a.param.ApiKey == "" {
		return ErrMissingApiKey
	}

	generated, err := tool.EnsureTlsCertificate(
		"authbox",
		"Authbox Server",
		a.selfSignedKeyFilename(),
		a.selfSignedCertFilename(),
		a.param.Hostnames)
	if err != nil {
		return fmt.Errorf("unable to prepare cert and key files: %w", err)
	}
	if generated {
		logrus.Info("Self-signed cert and key files generated")
	}

	go func() {
		err := a.server.ListenAndServeTLS(a.selfSignedCertFilename(), a.selfSignedKeyFilename())
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Error(err)
		}
	}()
	return nil
}

func (a *Api) Stop() {
	logrus.Infof("Stop api")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.server.Shutdown(ctx); err != nil {
		logrus.Warnf("Api shutdown: %v", err)
	}
}

func (a *Api) selfSignedKeyFilename() string {
	return filepath.Join(a.configDir, "key.pem")
}

func (a *Api) selfSignedCertFilename() string {
	return filepath.Join(a.configDir, "cert.pem")
}

func ErrorNotFoundAction(w http.ResponseWriter, r *http.Request) {
	ErrorStatusAction(w, r, http.StatusNotFound)
}

func ErrorMethodNotAllowedAction(w http.ResponseWriter, r *http.Request) {
	ErrorStatusAction(w, r, http.StatusMethodNotAllowed)
}

func ErrorStatusAction(w http.ResponseWriter, r *http.Request, status int) {
	apimodel.ErrorMessage{ErrStatusCode: status}.SendError(w)
}

func GlobalErrorAction(w http.ResponseWriter, message string, status int) {
	apimodel.ErrorMessage{ErrStatusCode: status, ErrMessage: message}.SendError(w)
}
