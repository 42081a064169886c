package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type auditedUser struct {
	Email        string
	GivenName    string
	Surname      string
	PasswordHash string `audit:"-"`
	Language     string

	internal int
}

func TestSnapshot(t *testing.T) {
	user := &auditedUser{
		Email:        "ada@example.com",
		GivenName:    "Ada",
		Surname:      "Lovelace",
		PasswordHash: "secret",
		Language:     "en",
		internal:     42,
	}

	values, columns, err := Snapshot(user)
	require.NoError(t, err)

	assert.Equal(t, []string{"Email", "GivenName", "Surname", "Language"}, columns,
		"declaration order, excluded and unexported fields skipped")
	assert.Equal(t, "ada@example.com", values["Email"])
	assert.NotContains(t, values, "PasswordHash")
	assert.NotContains(t, values, "internal")
}

func TestDiff(t *testing.T) {
	before := auditedUser{Email: "ada@example.com", GivenName: "Ada", Surname: "Lovelace", Language: "en"}
	after := before
	after.Surname = "King"
	after.Language = "fr"
	after.PasswordHash = "rotated"

	changed, oldValues, newValues, err := Diff(before, after)
	require.NoError(t, err)

	assert.Equal(t, []string{"Surname", "Language"}, changed)
	assert.Equal(t, map[string]interface{}{"Surname": "Lovelace", "Language": "en"}, oldValues)
	assert.Equal(t, map[string]interface{}{"Surname": "King", "Language": "fr"}, newValues)
}

func TestDiff_NoChanges(t *testing.T) {
	user := auditedUser{Email: "ada@example.com"}
	changed, oldValues, newValues, err := Diff(user, user)
	require.NoError(t, err)
	assert.Empty(t, changed)
	assert.Empty(t, oldValues)
	assert.Empty(t, newValues)
}

func TestDiff_ExcludedFieldChangeIsInvisible(t *testing.T) {
	before := auditedUser{PasswordHash: "old"}
	after := auditedUser{PasswordHash: "new"}

	changed, _, _, err := Diff(before, after)
	require.NoError(t, err)
	assert.Empty(t, changed)
}

func TestDiff_MismatchedTypes(t *testing.T) {
	_, _, _, err := Diff(auditedUser{}, struct{ Email string }{})
	assert.Error(t, err)
}

func TestDiff_NonStruct(t *testing.T) {
	_, _, err := Snapshot("not a struct")
	assert.Error(t, err)

	var nilUser *auditedUser
	_, _, err = Snapshot(nilUser)
	assert.Error(t, err)
}
