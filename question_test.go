package cdtrans

import (
	"strings"
	"testing"
)

func TestReadQuestionFile(t *testing.T) {
	syms, err := ReadPhoneSymbolTable(strings.NewReader("<eps> 0\nsil 1\na 2\nb 3\n"))
	if err != nil {
		t.Fatalf("symbol table: %v", err)
	}
	input := "SIL sil\nVOWELS a b\n"
	questions, err := ReadQuestionFile(strings.NewReader(input), syms)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(questions) != 2 {
		t.Fatalf("expected 2 questions, got %d", len(questions))
	}
	if questions[0].Name != "SIL" || questions[0].Y.Cardinality() != 1 {
		t.Fatalf("unexpected first question: %+v", questions[0])
	}
}

func TestQuestionSplit(t *testing.T) {
	y := FromMembers(4, []int{0, 1})
	q := Question{Name: "Q", Y: y}
	s := FromMembers(4, []int{0, 2})
	inY, inN := q.Split(s)
	if !inY.Equal(FromMembers(4, []int{0})) {
		t.Fatalf("inY = %v", inY)
	}
	if !inN.Equal(FromMembers(4, []int{2})) {
		t.Fatalf("inN = %v", inN)
	}
}
