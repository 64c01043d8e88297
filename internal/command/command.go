// Package command defines the typed intents views dispatch and the terminal
// values coordinators answer with.
//
// A kind string reads RESOURCE_OP_PHASE, e.g. STAFF_LIST_REQUEST or
// PRODUCTS_UPDATE_STATUS_FAILURE. CLEAR_ERROR and RESET carry no phase.
package command

import (
	"strings"

	"github.com/google/uuid"
)

type Op string

const (
	OpList         Op = "LIST"
	OpDetail       Op = "DETAIL"
	OpCreate       Op = "CREATE"
	OpUpdate       Op = "UPDATE"
	OpUpdateStatus Op = "UPDATE_STATUS"
	OpDelete       Op = "DELETE"
	OpLogin        Op = "LOGIN"
	OpLogout       Op = "LOGOUT"
	OpClearError   Op = "CLEAR_ERROR"
	OpReset        Op = "RESET"
)

// ops is ordered so that longer suffixes are matched first.
var ops = []Op{OpUpdateStatus, OpClearError, OpUpdate, OpList, OpDetail, OpCreate, OpDelete, OpLogin, OpLogout, OpReset}

// IsMutation reports whether a successful op changes server-side lists.
func (o Op) IsMutation() bool {
	switch o {
	case OpCreate, OpUpdate, OpUpdateStatus, OpDelete:
		return true
	default:
		return false
	}
}

// Phaseless ops act on the slice directly and never reach a coordinator.
func (o Op) Phaseless() bool {
	return o == OpClearError || o == OpReset
}

type Phase string

const (
	PhaseNone    Phase = ""
	PhaseRequest Phase = "REQUEST"
	PhaseSuccess Phase = "SUCCESS"
	PhaseFailure Phase = "FAILURE"
)

func (p Phase) Terminal() bool {
	return p == PhaseSuccess || p == PhaseFailure
}

type Kind string

func KindOf(resource string, op Op, phase Phase) Kind {
	name := strings.ToUpper(strings.TrimSpace(resource)) + "_" + string(op)
	if phase != PhaseNone {
		name += "_" + string(phase)
	}
	return Kind(name)
}

// Parse splits a kind into its resource, op and phase.
func (k Kind) Parse() (resource string, op Op, phase Phase, ok bool) {
	rest := string(k)
	for _, p := range []Phase{PhaseRequest, PhaseSuccess, PhaseFailure} {
		if strings.HasSuffix(rest, "_"+string(p)) {
			phase = p
			rest = strings.TrimSuffix(rest, "_"+string(p))
			break
		}
	}
	for _, candidate := range ops {
		suffix := "_" + string(candidate)
		if !strings.HasSuffix(rest, suffix) {
			continue
		}
		resource = strings.TrimSuffix(rest, suffix)
		if resource == "" {
			return "", "", "", false
		}
		if candidate.Phaseless() != (phase == PhaseNone) {
			return "", "", "", false
		}
		return resource, candidate, phase, true
	}
	return "", "", "", false
}

// Command is immutable once built. Seq is stamped on a request when its slice
// accepts it; the terminal command answering that request carries the same
// number.
type Command struct {
	ID      string
	Kind    Kind
	Payload any
	Seq     uint64
}

func New(kind Kind, payload any) Command {
	return Command{ID: uuid.NewString(), Kind: kind, Payload: payload}
}

func Request(resource string, op Op, payload any) Command {
	return New(KindOf(resource, op, PhaseRequest), payload)
}

func ClearError(resource string) Command {
	return New(KindOf(resource, OpClearError, PhaseNone), nil)
}

// Reset returns a slice to its initial state and retires its pending requests.
func Reset(resource string) Command {
	return New(KindOf(resource, OpReset, PhaseNone), nil)
}

func Success(resource string, op Op, seq uint64, payload any) Command {
	c := New(KindOf(resource, op, PhaseSuccess), payload)
	c.Seq = seq
	return c
}

func Fail(resource string, op Op, seq uint64, failure Failure) Command {
	c := New(KindOf(resource, op, PhaseFailure), failure)
	c.Seq = seq
	return c
}

// Failure is the payload of every _FAILURE command.
type Failure struct {
	Message string
	Err     error
}

type IDPayload struct {
	ID string
}

type CreatePayload struct {
	Body any
}

type UpdatePayload struct {
	ID   string
	Body any
}

// StatusPayload carries the new status as the backend expects it: a string
// for most domains, a bool for active toggles.
type StatusPayload struct {
	ID     string
	Status any
}
