package seed

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/eventroll/rollcall/internal/member"
)

const cairoDataset = `name,branch,category,status,code
Ali,Cairo,VIP,PRESENT,C1
Sara,Cairo,Staff,ABSENT,C2
`

func TestParse_ConcreteScenario(t *testing.T) {
	records := New([]byte(cairoDataset)).Parse()
	if len(records) != 2 {
		t.Fatalf("Parse() returned %d records, want 2", len(records))
	}

	want := member.Record{Name: "Ali", Branch: "Cairo", Category: "VIP", Status: member.StatusPresent, Code: "C1"}
	if records[0] != want {
		t.Errorf("records[0] = %+v, want %+v", records[0], want)
	}
	if records[1].Status != member.StatusAbsent {
		t.Errorf("records[1].Status = %v, want absent", records[1].Status)
	}
}

func TestParse_DropsMalformedLines(t *testing.T) {
	data := strings.Join([]string{
		"name,branch,category,status,code",
		"Ali,Cairo,VIP,PRESENT,C1",
		// missing code, blank branch, unknown status, extra field
		"Ali,Cairo,VIP,PRESENT",
		"Omar, ,Staff,ABSENT,C3",
		"Laila,Giza,Guest,LATE,G1",
		"Karim,Giza,Guest,ABSENT,G2,xtra",
		"",
		"  Mona , Giza , Guest , حضور , G3 \r",
	}, "\n")

	records := New([]byte(data)).Parse()
	if len(records) != 2 {
		t.Fatalf("Parse() returned %d records, want 2: %+v", len(records), records)
	}
	if records[1].Name != "Mona" || records[1].Branch != "Giza" || records[1].Code != "G3" {
		t.Errorf("fields not trimmed: %+v", records[1])
	}
	if records[1].Status != member.StatusPresent {
		t.Errorf("Arabic status not parsed: %v", records[1].Status)
	}
}

func TestParse_HeaderOnlyAndEmpty(t *testing.T) {
	if got := New(nil).Parse(); len(got) != 0 {
		t.Errorf("empty blob parsed %d records", len(got))
	}
	if got := New([]byte("name,branch,category,status,code\n")).Parse(); len(got) != 0 {
		t.Errorf("header-only blob parsed %d records", len(got))
	}
}

func TestBranches_SortedDistinct(t *testing.T) {
	data := `name,branch,category,status,code
A,Giza,VIP,PRESENT,1
B,Cairo,VIP,PRESENT,2
C,Giza,VIP,ABSENT,3
D,Alexandria,VIP,ABSENT,4
`
	got := New([]byte(data)).Branches()
	want := []string{"Alexandria", "Cairo", "Giza"}
	if len(got) != len(want) {
		t.Fatalf("Branches() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Branches()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestMembersByBranch(t *testing.T) {
	l := New([]byte(cairoDataset))
	if got := l.MembersByBranch("Cairo"); len(got) != 2 {
		t.Errorf("MembersByBranch(Cairo) = %d records, want 2", len(got))
	}
	if got := l.MembersByBranch("Giza"); len(got) != 0 {
		t.Errorf("MembersByBranch(Giza) = %d records, want 0", len(got))
	}
}

func TestDefaultDataset(t *testing.T) {
	l := Default()
	records := l.Parse()
	if len(records) == 0 {
		t.Fatal("embedded dataset is empty")
	}

	codes := make(map[string]bool)
	for _, r := range records {
		if codes[r.Code] {
			t.Errorf("duplicate code %s in embedded dataset", r.Code)
		}
		codes[r.Code] = true
	}

	total := 0
	for _, b := range l.Branches() {
		total += len(l.MembersByBranch(b))
	}
	if total != len(records) {
		t.Errorf("branches cover %d records, want %d", total, len(records))
	}
}

func TestOpen_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.csv")
	if err := os.WriteFile(path, []byte(cairoDataset), 0644); err != nil {
		t.Fatalf("failed to write seed: %v", err)
	}

	l, err := Open(context.Background(), path, S3Config{})
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if got := len(l.Parse()); got != 2 {
		t.Errorf("Parse() = %d records, want 2", got)
	}

	if _, err := Open(context.Background(), filepath.Join(t.TempDir(), "missing.csv"), S3Config{}); err == nil {
		t.Error("Open() of missing file succeeded")
	}
}

type fakeS3 struct {
	bucket, key string
	body        string
	err         error
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.bucket, f.key = *in.Bucket, *in.Key
	if f.err != nil {
		return nil, f.err
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(f.body))}, nil
}

func TestOpen_S3(t *testing.T) {
	fake := &fakeS3{body: cairoDataset}
	prev := newS3Client
	newS3Client = func(context.Context, S3Config) (objectGetter, error) { return fake, nil }
	defer func() { newS3Client = prev }()

	l, err := Open(context.Background(), "s3://events/2026/attendance.csv", S3Config{})
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if fake.bucket != "events" || fake.key != "2026/attendance.csv" {
		t.Errorf("fetched %s/%s, want events/2026/attendance.csv", fake.bucket, fake.key)
	}
	if got := len(l.Parse()); got != 2 {
		t.Errorf("Parse() = %d records, want 2", got)
	}

	fake.err = errors.New("access denied")
	if _, err := Open(context.Background(), "s3://events/x.csv", S3Config{}); err == nil {
		t.Error("Open() should surface fetch errors")
	}
	if _, err := Open(context.Background(), "s3://events", S3Config{}); err == nil {
		t.Error("Open() should reject a source without a key")
	}
}

func TestOpen_Embedded(t *testing.T) {
	for _, src := range []string{"", SourceEmbedded} {
		l, err := Open(context.Background(), src, S3Config{})
		if err != nil {
			t.Fatalf("Open(%q) failed: %v", src, err)
		}
		if len(l.Parse()) != len(Default().Parse()) {
			t.Errorf("Open(%q) did not return the embedded dataset", src)
		}
	}
}
