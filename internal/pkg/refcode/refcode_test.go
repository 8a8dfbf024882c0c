package refcode

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_MatchesShape(t *testing.T) {
	at := time.Date(2025, 10, 19, 9, 30, 0, 0, time.UTC)

	for i := 0; i < 2000; i++ {
		id := New(KindTopupRequest, at)
		require.NoError(t, Validate(KindTopupRequest, id), id)
		assert.True(t, strings.HasPrefix(id, "T-251019-"), id)
		assert.False(t, strings.ContainsAny(id[9:], "0O1IL"), id)
	}

	id := New(KindAgentTransaction, at)
	assert.NoError(t, Validate(KindAgentTransaction, id))
	assert.Len(t, id, len("A-251019-XXXX"))
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		kind Kind
		id   string
		ok   bool
	}{
		{"example", KindTopupRequest, "T-251019-P9Q2", true},
		{"any kind", "", "A-251019-P9Q2", true},
		{"wrong kind", KindAgentTransaction, "T-251019-P9Q2", false},
		{"ambiguous zero", KindTopupRequest, "T-251019-P0Q2", false},
		{"ambiguous letter O", KindTopupRequest, "T-251019-POQ2", false},
		{"ambiguous one", KindTopupRequest, "T-251019-P1Q2", false},
		{"ambiguous I", KindTopupRequest, "T-251019-PIQ2", false},
		{"ambiguous L", KindTopupRequest, "T-251019-PLQ2", false},
		{"short code", KindTopupRequest, "T-251019-P9Q", false},
		{"lower case", KindTopupRequest, "t-251019-p9q2", false},
		{"impossible date", KindTopupRequest, "T-251345-P9Q2", false},
		{"unknown kind", "", "X-251019-P9Q2", false},
		{"empty", "", "", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(tc.kind, tc.id)
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidReference)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "T-251019-P9Q2", Normalize("  t-251019-p9q2 "))
}
