package webapp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"

	"github.com/go-playground/validator/v10"
	"github.com/phuslu/log"
	"nuha.dev/racetracker/internal/course"
	"nuha.dev/racetracker/internal/service"
	"nuha.dev/racetracker/internal/tracking"
	"nuha.dev/racetracker/internal/util"
	"nuha.dev/racetracker/internal/webapp/common"
)

type Dispatcher struct {
	funcs     map[string]_function
	validator *validator.Validate
	log       log.Logger
}

type _function struct {
	reqType reflect.Type
	resType reflect.Type
	handler reflect.Value
}

func NewDispatcher() *Dispatcher {
	d := &Dispatcher{}
	d.funcs = make(map[string]_function)
	d.validator = validator.New()
	d.log = log.DefaultLogger
	d.log.Context = log.NewContext(nil).Str("module", "dispatcher").Value()
	return d
}

// StatusOf maps an error kind to its HTTP status. Errors of no known kind
// are 500.
func StatusOf(err error) int {
	switch {
	case errors.Is(err, tracking.ErrMalformedPing), errors.Is(err, service.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, tracking.ErrUnknownParticipant), errors.Is(err, course.ErrCourseNotFound), errors.Is(err, util.ErrBadFollowCode):
		return http.StatusNotFound
	case errors.Is(err, tracking.ErrSessionClosed), errors.Is(err, tracking.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, tracking.ErrOutlierPing):
		return http.StatusUnprocessableEntity
	case errors.Is(err, tracking.ErrCourseUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	util.JsonWriteStatus(w, status, common.BasicResponse{Status: status, Message: msg})
}

func (disp *Dispatcher) Call(funcname string, w http.ResponseWriter, r *http.Request) {
	_func, ok := disp.funcs[funcname]
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("function \"%s\" not found", funcname))
		return
	}
	rid := util.GenUUID()
	w.Header().Set("X-Request-Id", rid)
	ctx := context.WithValue(r.Context(), common.RequestIdKey, rid)
	disp.call(ctx, funcname, _func, r, w)
}

func (disp *Dispatcher) call(ctx context.Context, funcname string, _func _function, r *http.Request, w http.ResponseWriter) {
	response := reflect.New(_func.resType)
	var err_ref []reflect.Value
	if _func.reqType != nil {
		request := reflect.New(_func.reqType)
		err := json.NewDecoder(r.Body).Decode(request.Interface())
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		err = disp.validator.Struct(request.Interface())
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		err_ref = _func.handler.Call([]reflect.Value{reflect.ValueOf(ctx), request, response})
	} else {
		err_ref = _func.handler.Call([]reflect.Value{reflect.ValueOf(ctx), response})
	}
	if !err_ref[0].IsNil() {
		err := err_ref[0].Interface().(error)
		status := StatusOf(err)
		if status == http.StatusInternalServerError {
			disp.log.Error().Err(err).Str("func", funcname).Str("request_id", ctx.Value(common.RequestIdKey).(string)).Msg("unclassified error")
			writeError(w, status, http.StatusText(status))
			return
		}
		disp.log.Debug().Err(err).Str("func", funcname).Int("status", status).Msg("request rejected")
		writeError(w, status, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(response.Interface())
	if err != nil {
		disp.log.Error().Err(err).Msg("")
	}
}

// Add registers f as func(ctx, *Req, *Res) error or func(ctx, *Res) error.
func (disp *Dispatcher) Add(funcname string, f interface{}) {
	s := _function{}
	s.handler = reflect.ValueOf(f)
	if s.handler.Type().NumIn() == 2 {
		s.reqType = nil
		s.resType = s.handler.Type().In(1).Elem()
	} else {
		s.reqType = s.handler.Type().In(1).Elem()
		s.resType = s.handler.Type().In(2).Elem()
	}
	disp.funcs[funcname] = s
}
