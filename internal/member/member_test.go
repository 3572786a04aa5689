package member

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStatus(t *testing.T) {
	tests := []struct {
		in      string
		want    Status
		wantErr bool
	}{
		{in: "PRESENT", want: StatusPresent},
		{in: "present", want: StatusPresent},
		{in: " Absent ", want: StatusAbsent},
		{in: "حضور", want: StatusPresent},
		{in: "غياب", want: StatusAbsent},
		{in: "late", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseStatus(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStatus_Flip(t *testing.T) {
	assert.Equal(t, StatusAbsent, StatusPresent.Flip())
	assert.Equal(t, StatusPresent, StatusAbsent.Flip())
	assert.Equal(t, StatusPresent, StatusPresent.Flip().Flip())
}

func TestStatus_JSONRejectsInvalid(t *testing.T) {
	var r Record
	err := json.Unmarshal([]byte(`{"code":"C1","status":"maybe"}`), &r)
	require.Error(t, err)

	_, err = json.Marshal(Record{Code: "C1"})
	require.Error(t, err, "zero status must not be serialized")

	data, err := json.Marshal(Record{Code: "C1", Status: StatusAbsent})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"status":"absent"`)
}

func TestStatus_Scan(t *testing.T) {
	var s Status
	require.NoError(t, s.Scan("present"))
	assert.Equal(t, StatusPresent, s)
	require.NoError(t, s.Scan([]byte("absent")))
	assert.Equal(t, StatusAbsent, s)
	require.Error(t, s.Scan(int64(1)))
	require.Error(t, s.Scan("unknown"))
}

func TestRecord_Validate(t *testing.T) {
	valid := Record{Code: "C1", Name: "Ali", Branch: "Cairo", Category: "VIP", Status: StatusPresent}
	require.NoError(t, valid.Validate())

	missingCode := valid
	missingCode.Code = ""
	assert.EqualError(t, missingCode.Validate(), "code is required")

	badStatus := valid
	badStatus.Status = 0
	assert.Error(t, badStatus.Validate())
}

func TestParseTeam(t *testing.T) {
	team, err := ParseTeam("نقل")
	require.NoError(t, err)
	assert.Equal(t, TeamTransport, team)

	team, err = ParseTeam("External")
	require.NoError(t, err)
	assert.Equal(t, TeamExternal, team)

	_, err = ParseTeam("catering")
	assert.Error(t, err)
}

func TestUser_FixedBranch(t *testing.T) {
	transport := User{Name: "Omar", Code: "T1", Team: TeamTransport, Branch: "Cairo"}
	b, ok := transport.FixedBranch()
	assert.True(t, ok)
	assert.Equal(t, "Cairo", b)

	external := User{Name: "Mona", Code: "E1", Team: TeamExternal, Branch: "Cairo"}
	_, ok = external.FixedBranch()
	assert.False(t, ok)

	assert.Equal(t, Actor{Name: "Omar", Team: "transport"}, transport.Actor())
}

func TestCountsAndSplit(t *testing.T) {
	records := []Record{
		{Code: "C1", Name: "Ali", Status: StatusPresent},
		{Code: "C2", Name: "Sara", Status: StatusAbsent},
		{Code: "C3", Name: "Hassan", Status: StatusPresent},
	}

	assert.Equal(t, Counts{Present: 2, Absent: 1, Total: 3}, CountsOf(records))

	present, absent := Split(records)
	require.Len(t, present, 2)
	require.Len(t, absent, 1)
	assert.Equal(t, "C2", absent[0].Code)
}

func TestSearch(t *testing.T) {
	records := []Record{
		{Code: "C1", Name: "Ali"},
		{Code: "C2", Name: "Sara"},
		{Code: "X9", Name: "سارة"},
	}

	assert.Len(t, Search(records, ""), 3)
	assert.Len(t, Search(records, "sar"), 1)
	assert.Len(t, Search(records, "c"), 2, "code substring matches")
	assert.Len(t, Search(records, "سار"), 1)
	assert.Empty(t, Search(records, "zzz"))
}
