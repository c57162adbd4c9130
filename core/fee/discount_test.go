package fee

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestFamilyShare(t *testing.T) {
	tests := []struct {
		name     string
		discount string
		siblings int
		want     string
	}{
		{name: "no sibling", discount: "200", siblings: 0, want: "0"},
		{name: "negative count", discount: "200", siblings: -1, want: "0"},
		{name: "single child", discount: "200", siblings: 1, want: "200"},
		{name: "two siblings", discount: "200", siblings: 2, want: "100"},
		{name: "rounded half up", discount: "100", siblings: 3, want: "33.33"},
		{name: "rounded up", discount: "200", siblings: 3, want: "66.67"},
		{name: "no discount", discount: "0", siblings: 4, want: "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := familyShare(decimal.RequireFromString(tt.discount), tt.siblings)
			assert.True(t, got.Equal(decimal.RequireFromString(tt.want)), "familyShare() = %s, want %s", got, tt.want)
		})
	}
}
