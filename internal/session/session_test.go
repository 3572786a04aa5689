package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventroll/rollcall/internal/member"
)

var branches = []string{"Cairo", "Giza"}

func TestLogin(t *testing.T) {
	tests := []struct {
		name    string
		form    Form
		want    member.User
		wantErr error
	}{
		{
			name: "transport keeps branch",
			form: Form{Name: " Omar ", Code: "T1", Team: "transport", Branch: "Cairo"},
			want: member.User{Name: "Omar", Code: "T1", Team: member.TeamTransport, Branch: "Cairo"},
		},
		{
			name: "arabic team token",
			form: Form{Name: "Omar", Code: "T1", Team: "نقل", Branch: "Giza"},
			want: member.User{Name: "Omar", Code: "T1", Team: member.TeamTransport, Branch: "Giza"},
		},
		{
			name: "external drops branch",
			form: Form{Name: "Mona", Code: "E1", Team: "External", Branch: "Cairo"},
			want: member.User{Name: "Mona", Code: "E1", Team: member.TeamExternal},
		},
		{
			name:    "missing name",
			form:    Form{Code: "E1", Team: "external"},
			wantErr: ErrMissingFields,
		},
		{
			name:    "missing team",
			form:    Form{Name: "Mona", Code: "E1"},
			wantErr: ErrMissingFields,
		},
		{
			name:    "transport without branch",
			form:    Form{Name: "Omar", Code: "T1", Team: "transport"},
			wantErr: ErrBranchRequired,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Login(tt.form, branches)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLogin_RejectsUnknownTeamAndBranch(t *testing.T) {
	_, err := Login(Form{Name: "A", Code: "1", Team: "catering"}, branches)
	assert.Error(t, err)

	_, err = Login(Form{Name: "A", Code: "1", Team: "transport", Branch: "Aswan"}, branches)
	assert.ErrorContains(t, err, "Aswan")

	// Without a branch list any branch is accepted.
	u, err := Login(Form{Name: "A", Code: "1", Team: "transport", Branch: "Aswan"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Aswan", u.Branch)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(time.Minute)
	user := member.User{Name: "Mona", Code: "E1", Team: member.TeamExternal}

	token := r.Create(user)
	assert.Len(t, token, 36)
	assert.NotEqual(t, token, r.Create(user), "tokens must be unique")
	assert.Equal(t, 2, r.Len())

	got, ok := r.Lookup(token)
	require.True(t, ok)
	assert.Equal(t, user, got)

	assert.True(t, r.Logout(token))
	assert.False(t, r.Logout(token))
	_, ok = r.Lookup(token)
	assert.False(t, ok)

	_, ok = r.Lookup("not-a-token")
	assert.False(t, ok)
}

func TestRegistry_Expiry(t *testing.T) {
	r := NewRegistry(50 * time.Millisecond)
	token := r.Create(member.User{Name: "Mona", Code: "E1", Team: member.TeamExternal})

	time.Sleep(120 * time.Millisecond)
	_, ok := r.Lookup(token)
	assert.False(t, ok, "idle session must expire")
}

func TestParseBusForm(t *testing.T) {
	now := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)

	s, err := ParseBusForm(BusForm{
		Arrival:      "09:30",
		Departure:    "10:15",
		EventArrival: "in 2 hours",
	}, now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 10, 19, 9, 30, 0, 0, time.UTC), s.Arrival)
	assert.Equal(t, time.Date(2026, 10, 19, 10, 15, 0, 0, time.UTC), s.Departure)
	assert.WithinDuration(t, now.Add(2*time.Hour), s.EventArrival, time.Minute)
}

func TestParseBusForm_Errors(t *testing.T) {
	now := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)

	_, err := ParseBusForm(BusForm{Arrival: "09:30", Departure: "10:15"}, now)
	assert.ErrorIs(t, err, ErrBusTimesRequired)

	_, err = ParseBusForm(BusForm{Arrival: "09:30", Departure: "banana", EventArrival: "11:00"}, now)
	assert.ErrorContains(t, err, "departure")
}
