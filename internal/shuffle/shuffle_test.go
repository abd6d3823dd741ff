package shuffle

import (
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/stemsi/exstem-proctor/internal/model"
)

func TestHashSeed(t *testing.T) {
	tests := []struct {
		in   string
		want uint32
	}{
		{"", 0x811c9dc5},
		{"a", 0xe40c292c},
		{"foobar", 0xbf9cf968},
	}
	for _, tt := range tests {
		if got := HashSeed(tt.in); got != tt.want {
			t.Errorf("HashSeed(%q) = %#x, want %#x", tt.in, got, tt.want)
		}
	}
}

func TestXorShift32(t *testing.T) {
	rng := NewXorShift32(1)
	if got := rng.Next(); got != 270369 {
		t.Fatalf("first draw from seed 1 = %d, want 270369", got)
	}

	zero := NewXorShift32(0)
	if zero.Next() == 0 {
		t.Error("zero seed must not lock the generator at zero")
	}

	r := NewXorShift32(HashSeed("bounds"))
	for i := 0; i < 1000; i++ {
		if n := r.Intn(7); n < 0 || n >= 7 {
			t.Fatalf("Intn(7) out of range: %d", n)
		}
	}
}

func TestBucket(t *testing.T) {
	tests := []struct {
		category string
		want     string
	}{
		{"English", "English"},
		{"english grammar", "English"},
		{"FILIPINO", "Filipino"},
		{"Mathematics", "Math"},
		{"General Science", "Science"},
		{"Abstract Reasoning", "Abstract"},
		{"Personality", BucketOther},
		{"", BucketOther},
	}
	for _, tt := range tests {
		t.Run(tt.category, func(t *testing.T) {
			if got := Bucket(tt.category); got != tt.want {
				t.Errorf("Bucket(%q) = %q, want %q", tt.category, got, tt.want)
			}
		})
	}
}

func TestNewSeed(t *testing.T) {
	got := NewSeed("REF-1", "EX-9", time.Unix(1690000000, 0), "abc123")
	if got != "REF-1:EX-9:1690000000:abc123" {
		t.Errorf("unexpected seed %q", got)
	}
}

func buildQuestions(perCategory int, categories ...string) []model.Question {
	var qs []model.Question
	for _, c := range categories {
		for i := 0; i < perCategory; i++ {
			qs = append(qs, model.Question{
				ID:       fmt.Sprintf("%s-%02d", c, i),
				Category: c,
				Prompt:   "prompt",
				Options:  []string{"A", "B", "C", "D"},
			})
		}
	}
	return qs
}

func ids(qs []model.Question) []string {
	out := make([]string, len(qs))
	for i, q := range qs {
		out[i] = q.ID
	}
	return out
}

func TestOrderDeterministicForFixedSeed(t *testing.T) {
	const seed = "examRefNo:examId:1690000000:abc123"
	qs := buildQuestions(4, "Science", "Abstract", "English", "Math", "Filipino")

	first := Order(qs, seed)
	second := Order(qs, seed)

	if len(first) != 20 {
		t.Fatalf("expected 20 questions, got %d", len(first))
	}
	if !reflect.DeepEqual(ids(first), ids(second)) {
		t.Fatalf("same seed produced different orders:\n%v\n%v", ids(first), ids(second))
	}

	// Buckets come out in the fixed pedagogical order.
	wantBuckets := []string{"English", "Filipino", "Math", "Science", "Abstract"}
	for i, q := range first {
		if got := Bucket(q.Category); got != wantBuckets[i/4] {
			t.Fatalf("position %d: bucket %q, want %q", i, got, wantBuckets[i/4])
		}
	}
}

func TestOrderIgnoresFetchOrder(t *testing.T) {
	const seed = "REF:EX:1690000000:zz9"
	qs := buildQuestions(5, "English", "Math", "Science")

	reversed := make([]model.Question, len(qs))
	for i := range qs {
		reversed[len(qs)-1-i] = qs[i]
	}

	if !reflect.DeepEqual(ids(Order(qs, seed)), ids(Order(reversed, seed))) {
		t.Error("refetching questions in another order changed the attempt order")
	}
}

func TestOrderDoesNotMutateInput(t *testing.T) {
	qs := buildQuestions(3, "Math", "English")
	before := ids(qs)
	Order(qs, "seed")
	if !reflect.DeepEqual(before, ids(qs)) {
		t.Error("Order modified its input")
	}
}

func TestOrderDifferentSeedsUsuallyDiffer(t *testing.T) {
	qs := buildQuestions(10, "English")
	a := ids(Order(qs, "REF:EX:1:aaa"))
	b := ids(Order(qs, "REF:EX:1:bbb"))
	if reflect.DeepEqual(a, b) {
		t.Error("two different seeds produced identical 10-item orders")
	}
}

func TestOrderUnknownCategoriesLast(t *testing.T) {
	qs := append(buildQuestions(2, "Personality"), buildQuestions(2, "English")...)
	got := Order(qs, "seed")
	if Bucket(got[0].Category) != "English" || Bucket(got[1].Category) != "English" {
		t.Fatalf("English bucket should lead, got %v", ids(got))
	}
	if Bucket(got[2].Category) != BucketOther || Bucket(got[3].Category) != BucketOther {
		t.Errorf("unmatched categories should trail, got %v", ids(got))
	}
}
