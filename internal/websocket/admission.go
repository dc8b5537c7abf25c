package websocket

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
)

// Defaults applied when the request does not carry a value.
const (
	DefaultRoom         = "default"
	DefaultName         = "Anonymous"
	DefaultTranslateTo  = "en"
	DefaultTranscribeTo = "jp"
)

// Request is what admission reads from an inbound connection attempt.
type Request struct {
	Room   string
	Name   string
	Locale LocaleHints

	// Anonymous is set when no name was supplied and Name holds DefaultName.
	Anonymous bool
}

// ParseRequest derives the room from the escaped path and the display name
// and locale hints from the query string. Percent-encoding in the path is
// kept, so /my%20room is the room "my%20room".
func ParseRequest(u *url.URL) Request {
	req := Request{
		Room: strings.TrimLeft(u.EscapedPath(), "/"),
		Locale: LocaleHints{
			TranslateTo:  DefaultTranslateTo,
			TranscribeTo: DefaultTranscribeTo,
		},
	}
	if req.Room == "" {
		req.Room = DefaultRoom
	}

	q := u.Query()
	req.Name = q.Get("name")
	if req.Name == "" {
		req.Name = DefaultName
		req.Anonymous = true
	}
	if q.Has("translate_to") {
		req.Locale.TranslateTo = q.Get("translate_to")
	}
	if q.Has("transcribe_to") {
		req.Locale.TranscribeTo = q.Get("transcribe_to")
	}
	return req
}

// RejectionCode classifies why an attempt was refused.
type RejectionCode string

const RejectNameConflict RejectionCode = "name_conflict"

// Rejection is a terminal admission decision. The HTTP layer renders it
// before the upgrade completes.
type Rejection struct {
	Code    RejectionCode
	Status  int
	Message string
	Room    string
	Name    string
}

func (r *Rejection) Error() string {
	return r.Message
}

// Admission is an accepted attempt. It holds the display name in the room
// until it is joined by a relay or released.
type Admission struct {
	Room   string
	Name   string
	Locale LocaleHints

	reservation *Reservation
}

// Release gives the reserved name back. Call it when the upgrade fails.
func (a *Admission) Release() {
	a.reservation.Release()
}

// Participant builds the participant record this admission will join as.
func (a *Admission) Participant(id ConnectionID) *Participant {
	return NewParticipant(id, a.Room, a.Name, a.Locale)
}

// Admitter decides whether connection attempts may enter their room.
type Admitter struct {
	registry *Registry
}

// NewAdmitter creates an admitter over the registry.
func NewAdmitter(registry *Registry) *Admitter {
	return &Admitter{registry: registry}
}

// Admit parses r and admits or rejects it. A rejection is returned as a
// *Rejection error and leaves the registry untouched.
func (a *Admitter) Admit(r *http.Request) (*Admission, error) {
	return a.AdmitRequest(ParseRequest(r.URL))
}

// AdmitRequest admits an already parsed request. Anonymous requests never
// conflict: they get the first free of Anonymous, Anonymous-2, ...
func (a *Admitter) AdmitRequest(req Request) (*Admission, error) {
	var res *Reservation
	if req.Anonymous {
		res = a.registry.ReserveAvailable(req.Room, req.Name)
	} else {
		var err error
		res, err = a.registry.Reserve(req.Room, req.Name)
		if errors.Is(err, ErrNameInUse) {
			return nil, &Rejection{
				Code:    RejectNameConflict,
				Status:  http.StatusConflict,
				Message: nameInUseText(req.Name),
				Room:    req.Room,
				Name:    req.Name,
			}
		}
		if err != nil {
			return nil, err
		}
	}

	return &Admission{
		Room:        res.Room,
		Name:        res.Name,
		Locale:      req.Locale,
		reservation: res,
	}, nil
}
