package localddb

import (
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConditionExpressions(t *testing.T) {
	item := map[string]types.AttributeValue{
		"PK":     s("PRODUCT#1"),
		"status": s("ACTIVE"),
		"price":  n("1299"),
		"tags":   &types.AttributeValueMemberSS{Value: []string{"gift", "mug"}},
		"name":   s("Blue Mug"),
		"dims": &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{
			"sizes": &types.AttributeValueMemberL{Value: []types.AttributeValue{n("1"), n("2")}},
		}},
	}
	values := map[string]types.AttributeValue{
		":active": s("ACTIVE"),
		":draft":  s("DRAFT"),
		":lo":     n("1000"),
		":hi":     n("1500.00"),
		":gift":   s("gift"),
		":mug":    s("Mug"),
		":two":    n("2"),
		":S":      s("S"),
	}

	tests := []struct {
		expr string
		want bool
	}{
		{"attribute_exists (#pk)", true},
		{"attribute_not_exists (deleted_at)", true},
		{"#st = :active AND price BETWEEN :lo AND :hi", true},
		{"#st IN (:draft, :active)", true},
		{"NOT (#st = :draft)", true},
		{"#st <> :active OR price > :hi", false},
		{"contains (tags, :gift) AND contains (#nm, :mug)", true},
		{"begins_with (#pk, :active)", false},
		{"size (tags) = :two AND dims.sizes[1] = :two", true},
		{"attribute_type (#nm, :S)", true},
		{"price < :active", false},
		{"(attribute_exists (#pk)) AND ((#st = :draft) OR (price >= :lo))", true},
	}

	names := map[string]string{"#pk": "PK", "#st": "status", "#nm": "name"}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			c, err := parseCondition(tt.expr, newUsage(names, values))
			require.NoError(t, err)
			got, err := evalCondition(c, item)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExpressionErrors(t *testing.T) {
	names := map[string]string{"#pk": "PK"}
	values := map[string]types.AttributeValue{":v": s("x")}

	for _, expr := range []string{
		"#missing = :v",
		"#pk = :missing",
		"#pk = ",
		"#pk == :v",
		"attribute_exists(:v)",
		"(#pk = :v",
	} {
		t.Run(expr, func(t *testing.T) {
			_, err := parseCondition(expr, newUsage(names, values))
			assert.True(t, IsValidation(err))
		})
	}

	t.Run("repeated update clause", func(t *testing.T) {
		_, err := parseUpdate("SET #pk = :v SET #pk = :v", newUsage(names, values))
		assert.True(t, IsValidation(err))
	})
}

func TestUpdateExpressions(t *testing.T) {
	old := map[string]types.AttributeValue{
		"PK":    s("CART#1"),
		"stock": n("4"),
		"tags":  &types.AttributeValueMemberSS{Value: []string{"a", "b"}},
		"log":   &types.AttributeValueMemberL{Value: []types.AttributeValue{s("created")}},
	}
	values := map[string]types.AttributeValue{
		":one":  n("1"),
		":half": n("0.5"),
		":b":    &types.AttributeValueMemberSS{Value: []string{"b"}},
		":c":    &types.AttributeValueMemberSS{Value: []string{"c"}},
		":more": &types.AttributeValueMemberL{Value: []types.AttributeValue{s("paid")}},
	}

	u, err := parseUpdate("SET stock = stock - :one, score = if_not_exists(score, :half) + :half, log = list_append(log, :more) DELETE tags :b", newUsage(nil, values))
	require.NoError(t, err)
	item, touched, err := u.apply(old, []string{"PK"})
	require.NoError(t, err)

	assert.Equal(t, n("3"), item["stock"])
	assert.Equal(t, n("1"), item["score"])
	assert.Equal(t, &types.AttributeValueMemberL{Value: []types.AttributeValue{s("created"), s("paid")}}, item["log"])
	assert.Equal(t, &types.AttributeValueMemberSS{Value: []string{"a"}}, item["tags"])
	assert.Equal(t, []string{"stock", "score", "log", "tags"}, touched)
	assert.Equal(t, n("4"), old["stock"], "the old item is not modified")

	u, err = parseUpdate("ADD tags :c", newUsage(nil, values))
	require.NoError(t, err)
	item, _, err = u.apply(old, []string{"PK"})
	require.NoError(t, err)
	assert.Equal(t, &types.AttributeValueMemberSS{Value: []string{"a", "b", "c"}}, item["tags"])
}
