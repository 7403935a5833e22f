package generation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketsim/internal/domain"
)

func TestNormalize_QuestionFlatAndWrappedAgree(t *testing.T) {
	flat := `{"question":"Will Acme ship v2 by Friday?","resolutionCriteria":"Acme blog post","category":"tech"}`
	variants := []string{
		flat,
		`{"response":` + flat + `}`,
		`{"data":{"result":` + flat + `}}`,
		"```json\n" + flat + "\n```",
		`{"output":"{\"question\":\"Will Acme ship v2 by Friday?\",\"resolution_criteria\":\"Acme blog post\",\"category\":\"tech\"}"}`,
	}

	for _, raw := range variants {
		g, err := Normalize(domain.ShapeQuestion, []byte(raw))
		require.NoError(t, err, raw)
		require.NotNil(t, g.Question, raw)
		assert.Equal(t, "Will Acme ship v2 by Friday?", g.Question.Question)
		assert.Equal(t, "Acme blog post", g.Question.ResolutionCriteria)
		assert.Equal(t, "tech", g.Question.Category)
	}
}

func TestNormalize_QuestionMissingCriteriaIsMalformed(t *testing.T) {
	_, err := Normalize(domain.ShapeQuestion, []byte(`{"question":"Will it rain?"}`))
	assert.ErrorIs(t, err, domain.ErrMalformedGeneration)

	_, err = Normalize(domain.ShapeQuestion, []byte(`not json at all`))
	assert.ErrorIs(t, err, domain.ErrMalformedGeneration)
}

func TestNormalize_Post(t *testing.T) {
	g, err := Normalize(domain.ShapePost, []byte(`{"result":{"post":"  markets are wild today  "}}`))
	require.NoError(t, err)
	assert.Equal(t, "markets are wild today", g.Post.Content)

	_, err = Normalize(domain.ShapePost, []byte(`{"content":""}`))
	assert.ErrorIs(t, err, domain.ErrMalformedGeneration)
}

func TestNormalize_Article(t *testing.T) {
	g, err := Normalize(domain.ShapeArticle, []byte(`{"headline":"Acme soars","summary":"up 20%","content":"Long body"}`))
	require.NoError(t, err)
	assert.Equal(t, "Acme soars", g.Article.Title)
	assert.Equal(t, "up 20%", g.Article.Summary)
	assert.Equal(t, "Long body", g.Article.Body)
}

func TestNormalize_EventDefaultsType(t *testing.T) {
	g, err := Normalize(domain.ShapeEvent, []byte(`{"description":"A leak surfaces"}`))
	require.NoError(t, err)
	assert.Equal(t, "development", g.Event.Type)
}

func TestNormalize_DecisionsAcceptsArrayObjectAndWrapper(t *testing.T) {
	arr := `[{"npcId":"npc-1","action":"OPEN_LONG","ticker":"ACME","amount":"250","confidence":0.7},{"action":"hold"}]`
	variants := []string{
		arr,
		`{"decisions":` + arr + `}`,
		`{"response":{"decisions":` + arr + `}}`,
	}
	for _, raw := range variants {
		g, err := Normalize(domain.ShapeDecisions, []byte(raw))
		require.NoError(t, err, raw)
		// The second entry has no actor and is dropped.
		require.Len(t, g.Decisions, 1, raw)
		d := g.Decisions[0]
		assert.Equal(t, "npc-1", d.ActorID)
		assert.Equal(t, domain.ActionOpenLong, d.Action)
		assert.Equal(t, "ACME", d.Ticker)
		assert.InDelta(t, 250.0, d.Amount, 1e-9)
	}
}

func TestNormalize_DecisionsRejectsScalar(t *testing.T) {
	_, err := Normalize(domain.ShapeDecisions, []byte(`"hold everything"`))
	assert.ErrorIs(t, err, domain.ErrMalformedGeneration)
}

func TestNormalize_DecisionActionAliases(t *testing.T) {
	g, err := Normalize(domain.ShapeDecisions, []byte(`[
		{"npcId":"a","action":"close"},
		{"npcId":"b","action":"Buy-Yes","marketId":"m1"},
		{"npcId":"c","action":"short"}
	]`))
	require.NoError(t, err)
	require.Len(t, g.Decisions, 3)
	assert.Equal(t, domain.ActionClose, g.Decisions[0].Action)
	assert.Equal(t, domain.ActionBuyYes, g.Decisions[1].Action)
	assert.Equal(t, domain.ActionOpenShort, g.Decisions[2].Action)
}
