package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHumanNameString(t *testing.T) {
	tests := []struct {
		name string
		in   HumanName
		want string
	}{
		{"first only", HumanName{FirstName: "Ann"}, "Ann"},
		{"full", HumanName{Title: "Dr.", FirstName: "Ann", MiddleName: "B", LastName: "Cole", Suffix: "Jr."}, "Dr. Ann B Cole Jr."},
		{"nickname", HumanName{FirstName: "Robert", LastName: "Smith", Nickname: "Bob"}, "Robert Smith (Bob)"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.in.String())
		})
	}
}

func TestNameUnmarshal(t *testing.T) {
	var p Person
	body := `{"subjectId":"s1","name":{"firstName":"Ann","lastName":"Cole"},"aliases":["Annie",{"firstName":"A","lastName":"C"}]}`
	require.NoError(t, json.Unmarshal([]byte(body), &p))

	assert.Equal(t, "Ann Cole", p.Name.String())
	require.Len(t, p.Aliases, 2)
	assert.Equal(t, "Annie", p.Aliases[0].String())
	assert.Nil(t, p.Aliases[0].Human)
	assert.Equal(t, "A C", p.Aliases[1].String())

	b, err := json.Marshal(p.Aliases[0])
	require.NoError(t, err)
	assert.Equal(t, `"Annie"`, string(b))
}
