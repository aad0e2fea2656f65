package cdtrans

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Question is a named binary partition of the phone universe into a set Y
// and its complement N. Splitting a ContextSet S at some position with q
// produces S∩Y and S∩N.
type Question struct {
	Name string
	Y    ContextSet
}

// Split partitions s into the halves lying in q.Y and its complement.
func (q Question) Split(s ContextSet) (inY, inN ContextSet) {
	return s.Intersect(q.Y), s.Intersect(q.Y.Invert())
}

// QuestionSet is the set of questions eligible at one context position, as
// loaded from a phone-set file.
type QuestionSet struct {
	Position  int
	Questions []Question
}

// ReadQuestionFile parses a phone-set file: one question per line,
// "name phone1 phone2 ...", phones resolved through syms. Duplicate
// question names across files are admitted silently: a redundant
// question is already pruned by the generator's own redundancy check.
func ReadQuestionFile(r io.Reader, syms *SymbolTable) ([]Question, error) {
	scanner := bufio.NewScanner(r)
	var questions []Question
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return nil, fmt.Errorf("phone set file: line %d: expected \"name phone...\", got %q", lineNo, line)
		}
		y := NewContextSet(syms.Len())
		for _, tok := range fields[1:] {
			id, ok := syms.ID(tok)
			if !ok {
				return nil, fmt.Errorf("phone set file: line %d: unknown phone %q", lineNo, tok)
			}
			y.Add(id)
		}
		questions = append(questions, Question{Name: fields[0], Y: y})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("phone set file: %w", err)
	}
	return questions, nil
}
