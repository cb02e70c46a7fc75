package pathrule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApply_ChainedRules(t *testing.T) {
	rules := Rules{
		{Search: "/src/", Replace: "/dist/"},
		{Search: "scss", Replace: "css"},
		{Search: ".css", Replace: ".min.css"},
	}

	assert.Equal(t, "/a/dist/css/x.min.css", Apply(rules, "/a/src/scss/x.scss"))
}

func TestApply_Deterministic(t *testing.T) {
	rules := Rules{{Search: "/src/", Replace: "/dist/"}, {Search: ".js", Replace: ".min.js"}}
	paths := []string{"/p/src/a.js", "/p/src/src/b.js", "", "no-match"}

	for _, p := range paths {
		assert.Equal(t, rules.Apply(p), rules.Apply(p), p)
	}
}

func TestApply_NoOpOnAlreadyDerivedPath(t *testing.T) {
	rules := Rules{{Search: "/src/", Replace: "/dist/"}}

	once := rules.Apply("/a/dist/x.js")
	assert.Equal(t, "/a/dist/x.js", once)
	assert.Equal(t, once, rules.Apply(once))
}

func TestApply_SearchIsLiteral(t *testing.T) {
	rules := Rules{
		{Search: ".", Replace: "_"},
		{Search: "(x)", Replace: "$1"},
		{Search: "[*]", Replace: "$&"},
	}

	assert.Equal(t, "a_b_$1_$&", rules.Apply("a.b.(x).[*]"))
}

func TestApply_ReplacesAllOccurrences(t *testing.T) {
	rules := Rules{{Search: "src", Replace: "dist"}}
	assert.Equal(t, "/dist/dist/a.dist", rules.Apply("/src/src/a.src"))
}

func TestApply_EmptySearchSkipped(t *testing.T) {
	rules := Rules{{Search: "", Replace: "x"}}
	assert.Equal(t, "abc", rules.Apply("abc"))
}

func TestParse(t *testing.T) {
	rules, err := Parse([][]string{{"/src/", "/dist/"}, {"scss", "css"}})
	require.NoError(t, err)
	assert.Equal(t, Rules{{"/src/", "/dist/"}, {"scss", "css"}}, rules)

	_, err = Parse([][]string{{"only-one"}})
	require.Error(t, err)

	_, err = Parse([][]string{{"", "x"}})
	require.Error(t, err)
}
