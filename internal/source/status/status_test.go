package status

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func ptr(s string) *string { return &s }

func TestCheck(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		stat *string
		want Kind
	}{
		{"upper", ptr("OK"), OK},
		{"lower", ptr("ok"), OK},
		{"padded", ptr(" Ok \n"), OK},
		{"no data", ptr("很抱歉，沒有符合條件的資料!"), BadStatus},
		{"empty", ptr(""), Malformed},
		{"missing", nil, Malformed},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := Check(tc.stat)
			assert.Equal(t, tc.want, got.Kind)
			assert.Equal(t, tc.want == OK, got.OK())
		})
	}
}

func TestResultErr(t *testing.T) {
	t.Parallel()

	assert.NoError(t, Check(ptr("OK")).Err())
	assert.ErrorIs(t, Check(ptr("FAIL")).Err(), ErrBadStatus)
	assert.ErrorIs(t, Check(nil).Err(), ErrMalformed)
	assert.Equal(t, "bad_status", BadStatus.String())
}
