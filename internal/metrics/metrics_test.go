package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

type fakeOccupancy struct{ total, rooms int }

func (f fakeOccupancy) Total() int     { return f.total }
func (f fakeOccupancy) RoomCount() int { return f.rooms }

func TestRegisterOccupancy_Twice(t *testing.T) {
	req := require.New(t)

	req.NoError(RegisterOccupancy(fakeOccupancy{total: 3, rooms: 2}))
	req.NoError(RegisterOccupancy(fakeOccupancy{}))

	expected := `
# HELP room_relay_rooms Rooms with at least one participant.
# TYPE room_relay_rooms gauge
room_relay_rooms 2
`
	req.NoError(testutil.GatherAndCompare(prometheus.DefaultGatherer, strings.NewReader(expected), "room_relay_rooms"))
}

func TestAdmissions_Counts_By_Result(t *testing.T) {
	req := require.New(t)

	before := testutil.ToFloat64(Admissions.WithLabelValues(AdmissionRejected))
	Admissions.WithLabelValues(AdmissionRejected).Inc()

	req.Equal(before+1, testutil.ToFloat64(Admissions.WithLabelValues(AdmissionRejected)))
}
