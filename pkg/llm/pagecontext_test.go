package llm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePage = `<!DOCTYPE html>
<html>
<head>
	<title>Checkout — Example Shop</title>
	<style>body { color: red; }</style>
	<script>console.log("noise");</script>
</head>
<body>
	<h1>Checkout</h1>
	<form action="/pay">
		<label for="card">Card number</label>
		<input type="text" name="card" placeholder="1234 5678 9012 3456">
		<button type="submit">Pay now</button>
	</form>
	<a href="/cart" aria-label="Back to cart">Back</a>
	<div>Some layout noise that should not appear as an element line</div>
</body>
</html>`

func TestBuild_SummarizesInteractiveElements(t *testing.T) {
	builder, err := NewContextBuilder("gpt-4o", 0)
	require.NoError(t, err)

	context := builder.Build(samplePage)

	assert.Contains(t, context, "title: Checkout — Example Shop")
	assert.Contains(t, context, `<h1> Checkout`)
	assert.Contains(t, context, `<form action="/pay">`)
	assert.Contains(t, context, `placeholder="1234 5678 9012 3456"`)
	assert.Contains(t, context, `<button type="submit"> Pay now`)
	assert.Contains(t, context, `aria-label="Back to cart"`)

	// Noise is stripped
	assert.NotContains(t, context, "console.log")
	assert.NotContains(t, context, "color: red")
	assert.NotContains(t, context, "layout noise")
}

func TestBuild_TokenBudgetEnforced(t *testing.T) {
	builder, err := NewContextBuilder("gpt-4o", 50)
	require.NoError(t, err)

	var sb strings.Builder
	sb.WriteString("<html><body>")
	for i := 0; i < 200; i++ {
		sb.WriteString(`<button>Button with a reasonably long label</button>`)
	}
	sb.WriteString("</body></html>")

	context := builder.Build(sb.String())
	tokens := builder.encoding.Encode(context, nil, nil)
	assert.LessOrEqual(t, len(tokens), 50)
	assert.NotEmpty(t, context)
}

func TestBuild_UnknownModelFallsBack(t *testing.T) {
	builder, err := NewContextBuilder("some-future-model", 100)
	require.NoError(t, err)
	assert.NotEmpty(t, builder.Build(samplePage))
}

func TestBuild_EmptyInput(t *testing.T) {
	builder, err := NewContextBuilder("gpt-4o", 100)
	require.NoError(t, err)

	// html.Parse accepts almost anything; an empty document just has no
	// element lines
	context := builder.Build("")
	assert.NotContains(t, context, "<")
}

func TestBuild_LongElementTextCapped(t *testing.T) {
	builder, err := NewContextBuilder("gpt-4o", 0)
	require.NoError(t, err)

	long := strings.Repeat("word ", 100)
	context := builder.Build("<html><body><button>" + long + "</button></body></html>")
	assert.Contains(t, context, "...")
}
