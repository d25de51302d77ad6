package canon

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanonicalizeGroupsVariants(t *testing.T) {
	want := Canonicalize("fornecedor")
	for _, name := range []string{"  Fornecedor ", "FORNECEDOR", "fornecedor", "\tFornecedor\n"} {
		require.Equal(t, want, Canonicalize(name), name)
	}
}

func TestCanonicalizeFullFold(t *testing.T) {
	require.Equal(t, Canonicalize("STRASSE"), Canonicalize("Straße"))
	require.True(t, Equal("Funcionário", "FUNCIONÁRIO"))
}

func TestCanonicalizeNormalisesComposition(t *testing.T) {
	composed := "Funcion\u00e1rio"
	decomposed := "Funciona\u0301rio"
	require.NotEqual(t, composed, decomposed)
	require.Equal(t, Canonicalize(composed), Canonicalize(decomposed))
}

func TestCanonicalizeKeepsAccentsDistinct(t *testing.T) {
	require.NotEqual(t, Canonicalize("Funcionario"), Canonicalize("Funcionário"))
}

func TestCanonicalizeEmpty(t *testing.T) {
	require.Equal(t, "", Canonicalize(""))
	require.Equal(t, "", Canonicalize("   "))
}

func TestCanonicalizeIdempotent(t *testing.T) {
	for _, name := range []string{"Vendedora", " CLIENTE ", "Straße", ""} {
		once := Canonicalize(name)
		require.Equal(t, once, Canonicalize(once))
	}
}

func TestSlug(t *testing.T) {
	cases := map[string]string{
		"Funcionário":         "funcionario",
		"  Vendedora  ":       "vendedora",
		"Gerente de Compras":  "gerente_de_compras",
		"Sócio--Proprietário": "socio_proprietario",
		"__admin__":           "admin",
		"":                    "",
	}
	for in, want := range cases {
		require.Equal(t, want, Slug(in), in)
	}
}
