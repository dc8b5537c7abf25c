package websocket

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestParseRequest(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Request
	}{
		{
			name: "room and name",
			raw:  "/lobby?name=Ann",
			want: Request{Room: "lobby", Name: "Ann", Locale: LocaleHints{TranslateTo: "en", TranscribeTo: "jp"}},
		},
		{
			name: "root path uses default room",
			raw:  "/?name=Ann",
			want: Request{Room: "default", Name: "Ann", Locale: LocaleHints{TranslateTo: "en", TranscribeTo: "jp"}},
		},
		{
			name: "missing name is anonymous",
			raw:  "/lobby",
			want: Request{Room: "lobby", Name: "Anonymous", Anonymous: true, Locale: LocaleHints{TranslateTo: "en", TranscribeTo: "jp"}},
		},
		{
			name: "empty name is anonymous",
			raw:  "/lobby?name=",
			want: Request{Room: "lobby", Name: "Anonymous", Anonymous: true, Locale: LocaleHints{TranslateTo: "en", TranscribeTo: "jp"}},
		},
		{
			name: "nested path is one room",
			raw:  "/floor/2?name=Ann",
			want: Request{Room: "floor/2", Name: "Ann", Locale: LocaleHints{TranslateTo: "en", TranscribeTo: "jp"}},
		},
		{
			name: "leading slashes stripped",
			raw:  "http://relay//lobby?name=Ann",
			want: Request{Room: "lobby", Name: "Ann", Locale: LocaleHints{TranslateTo: "en", TranscribeTo: "jp"}},
		},
		{
			name: "locale hints independent",
			raw:  "/lobby?name=Ann&translate_to=fr",
			want: Request{Room: "lobby", Name: "Ann", Locale: LocaleHints{TranslateTo: "fr", TranscribeTo: "jp"}},
		},
		{
			name: "both locale hints",
			raw:  "/lobby?name=Ann&translate_to=de&transcribe_to=es",
			want: Request{Room: "lobby", Name: "Ann", Locale: LocaleHints{TranslateTo: "de", TranscribeTo: "es"}},
		},
		{
			name: "percent-encoded name",
			raw:  "/lobby?name=Ann%20Lee",
			want: Request{Room: "lobby", Name: "Ann Lee", Locale: LocaleHints{TranslateTo: "en", TranscribeTo: "jp"}},
		},
		{
			name: "percent-encoded room kept verbatim",
			raw:  "/my%20room?name=Ann",
			want: Request{Room: "my%20room", Name: "Ann", Locale: LocaleHints{TranslateTo: "en", TranscribeTo: "jp"}},
		},
		{
			name: "encoded slash is not a separator",
			raw:  "/floor%2F2?name=Ann",
			want: Request{Room: "floor%2F2", Name: "Ann", Locale: LocaleHints{TranslateTo: "en", TranscribeTo: "jp"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, ParseRequest(mustURL(t, tt.raw)))
		})
	}
}

func TestAdmitter_Rejects_Name_In_Use(t *testing.T) {
	req := require.New(t)
	reg := NewRegistry()
	admitter := NewAdmitter(reg)
	join(t, reg, "lobby", "Ann")

	// When another connection asks for the same name
	_, err := admitter.Admit(httptest.NewRequest(http.MethodGet, "/lobby?name=Ann", nil))

	// Then it is rejected with a conflict
	var rejection *Rejection
	req.True(errors.As(err, &rejection))
	req.Equal(RejectNameConflict, rejection.Code)
	req.Equal(http.StatusConflict, rejection.Status)
	req.Equal("Name 'Ann' is already in use", rejection.Message)
	req.Equal("lobby", rejection.Room)

	// And the registry is untouched
	req.Equal(1, reg.Count("lobby"))
}

func TestAdmitter_Same_Name_Other_Room(t *testing.T) {
	req := require.New(t)
	reg := NewRegistry()
	admitter := NewAdmitter(reg)
	join(t, reg, "lobby", "Ann")

	admission, err := admitter.AdmitRequest(ParseRequest(mustURL(t, "/kitchen?name=Ann")))
	req.NoError(err)
	req.Equal("kitchen", admission.Room)
	req.Equal("Ann", admission.Name)
}

func TestAdmitter_Holds_Name_Until_Released(t *testing.T) {
	req := require.New(t)
	admitter := NewAdmitter(NewRegistry())

	// Given an admission still handshaking
	first, err := admitter.AdmitRequest(ParseRequest(mustURL(t, "/lobby?name=Ann")))
	req.NoError(err)

	// Then a concurrent attempt for the name is rejected
	_, err = admitter.AdmitRequest(ParseRequest(mustURL(t, "/lobby?name=Ann")))
	var rejection *Rejection
	req.ErrorAs(err, &rejection)

	// When the first handshake fails
	first.Release()

	// Then the name is free again
	_, err = admitter.AdmitRequest(ParseRequest(mustURL(t, "/lobby?name=Ann")))
	req.NoError(err)
}

func TestAdmitter_Anonymous_Never_Conflicts(t *testing.T) {
	req := require.New(t)
	admitter := NewAdmitter(NewRegistry())

	a, err := admitter.AdmitRequest(ParseRequest(mustURL(t, "/lobby")))
	req.NoError(err)
	b, err := admitter.AdmitRequest(ParseRequest(mustURL(t, "/lobby")))
	req.NoError(err)

	req.Equal("Anonymous", a.Name)
	req.Equal("Anonymous-2", b.Name)

	// An explicit Anonymous is a regular name and conflicts
	_, err = admitter.AdmitRequest(ParseRequest(mustURL(t, "/lobby?name=Anonymous")))
	var rejection *Rejection
	req.ErrorAs(err, &rejection)
}

func TestAdmission_Participant_Carries_Locale(t *testing.T) {
	req := require.New(t)
	admitter := NewAdmitter(NewRegistry())

	admission, err := admitter.AdmitRequest(ParseRequest(mustURL(t, "/lobby?name=Ann&translate_to=fr")))
	req.NoError(err)

	id := NewConnectionID()
	p := admission.Participant(id)
	req.Equal(id, p.ID)
	req.Equal("lobby", p.Room)
	req.Equal("Ann", p.Name)
	req.Equal(LocaleHints{TranslateTo: "fr", TranscribeTo: "jp"}, p.Locale)
	req.NotNil(p.Outbox())
}
