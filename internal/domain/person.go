package domain

import (
	"bytes"
	"encoding/json"
	"strings"
)

// HumanName is a structured personal name.
type HumanName struct {
	Title      string `json:"title,omitempty"`
	FirstName  string `json:"firstName" validate:"required"`
	LastName   string `json:"lastName,omitempty"`
	MiddleName string `json:"middleName,omitempty"`
	Suffix     string `json:"suffix,omitempty"`
	Nickname   string `json:"nickname,omitempty"`
}

// String renders "title first middle last suffix (nickname)", skipping
// empty parts.
func (h HumanName) String() string {
	parts := make([]string, 0, 6)
	for _, p := range []string{h.Title, h.FirstName, h.MiddleName, h.LastName, h.Suffix} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	if nick := strings.TrimSpace(h.Nickname); nick != "" {
		parts = append(parts, "("+nick+")")
	}
	return strings.Join(parts, " ")
}

// Name is either a free-form string or a HumanName. It keeps whichever form
// the caller sent.
type Name struct {
	Text  string
	Human *HumanName
}

func (n Name) String() string {
	if n.Human != nil {
		return n.Human.String()
	}
	return strings.TrimSpace(n.Text)
}

func (n Name) MarshalJSON() ([]byte, error) {
	if n.Human != nil {
		return json.Marshal(n.Human)
	}
	return json.Marshal(n.Text)
}

func (n *Name) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		n.Human = nil
		return json.Unmarshal(data, &n.Text)
	}
	var h HumanName
	if err := json.Unmarshal(data, &h); err != nil {
		return err
	}
	n.Text = ""
	n.Human = &h
	return nil
}

// Person is a subject of a case.
type Person struct {
	SubjectID string `json:"subjectId" validate:"required"`
	Name      Name   `json:"name"`
	Aliases   []Name `json:"aliases,omitempty"`
}

// Subject pairs a person with the role they play in the case.
type Subject struct {
	Role    string `json:"role" validate:"required"`
	Subject Person `json:"subject" validate:"required"`
}

// MaskedSubject maps a subject to the alias that replaces them in redacted
// output.
type MaskedSubject struct {
	SubjectID string `json:"subjectId"`
	Alias     string `json:"alias"`
}
