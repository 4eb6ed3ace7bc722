package textnorm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/text/language"
)

func TestNormalize(t *testing.T) {
	n := Default()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"trims and collapses", "  Preciso   de\tBOLETO \n", "preciso de boleto"},
		{"keeps accents", "INÍCIO", "início"},
		{"empty", "   ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, n.Normalize(tt.in))
		})
	}
}

func TestFold(t *testing.T) {
	n := Default()

	assert.Equal(t, "inicio", n.Fold("Início"))
	assert.Equal(t, "cobranca da divida", n.Fold("Cobrança   da DÍVIDA"))
	assert.Equal(t, n.Fold("atualizar dados"), n.Fold("Atualizar Dados"))
}

func TestNormalize_TurkishCasing(t *testing.T) {
	n := New(language.Turkish)
	assert.Equal(t, "ıi", n.Normalize("Iİ"))
}

func TestIsMenuCode(t *testing.T) {
	assert.True(t, IsMenuCode("1", 3))
	assert.True(t, IsMenuCode("099", 3))
	assert.False(t, IsMenuCode("1000", 3))
	assert.False(t, IsMenuCode("", 3))
	assert.False(t, IsMenuCode("1a", 3))
	assert.False(t, IsMenuCode("١", 3))
}
