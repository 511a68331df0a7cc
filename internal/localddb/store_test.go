package localddb

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTable = "test-table"

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(Options{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() {
		store.Close()
	})

	_, err = store.CreateTable(context.Background(), &dynamodb.CreateTableInput{
		TableName: aws.String(testTable),
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String("PK"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("SK"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("GSI1PK"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("GSI1SK"), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String("PK"), KeyType: types.KeyTypeHash},
			{AttributeName: aws.String("SK"), KeyType: types.KeyTypeRange},
		},
		GlobalSecondaryIndexes: []types.GlobalSecondaryIndex{{
			IndexName: aws.String("GSI1"),
			KeySchema: []types.KeySchemaElement{
				{AttributeName: aws.String("GSI1PK"), KeyType: types.KeyTypeHash},
				{AttributeName: aws.String("GSI1SK"), KeyType: types.KeyTypeRange},
			},
			Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
		}},
		BillingMode: types.BillingModePayPerRequest,
	})
	require.NoError(t, err)
	return store
}

func s(v string) types.AttributeValue { return &types.AttributeValueMemberS{Value: v} }
func n(v string) types.AttributeValue { return &types.AttributeValueMemberN{Value: v} }

func key(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"PK": s(pk), "SK": s(sk)}
}

func put(t *testing.T, store *Store, item map[string]types.AttributeValue) {
	t.Helper()
	_, err := store.PutItem(context.Background(), &dynamodb.PutItemInput{TableName: aws.String(testTable), Item: item})
	require.NoError(t, err)
}

func get(t *testing.T, store *Store, pk, sk string) map[string]types.AttributeValue {
	t.Helper()
	out, err := store.GetItem(context.Background(), &dynamodb.GetItemInput{TableName: aws.String(testTable), Key: key(pk, sk)})
	require.NoError(t, err)
	return out.Item
}

func TestStore_Tables(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	t.Run("describe reports an active table", func(t *testing.T) {
		out, err := store.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(testTable)})
		require.NoError(t, err)
		assert.Equal(t, types.TableStatusActive, out.Table.TableStatus)
		require.Len(t, out.Table.GlobalSecondaryIndexes, 1)
		assert.Equal(t, "GSI1", aws.ToString(out.Table.GlobalSecondaryIndexes[0].IndexName))
	})

	t.Run("describe unknown table", func(t *testing.T) {
		_, err := store.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String("missing")})
		var nf *types.ResourceNotFoundException
		assert.True(t, errors.As(err, &nf))
	})

	t.Run("create twice", func(t *testing.T) {
		_, err := store.CreateTable(ctx, &dynamodb.CreateTableInput{
			TableName:            aws.String(testTable),
			AttributeDefinitions: []types.AttributeDefinition{{AttributeName: aws.String("PK"), AttributeType: types.ScalarAttributeTypeS}},
			KeySchema:            []types.KeySchemaElement{{AttributeName: aws.String("PK"), KeyType: types.KeyTypeHash}},
		})
		var inUse *types.ResourceInUseException
		assert.True(t, errors.As(err, &inUse))
	})
}

func TestStore_PutGetDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	t.Run("missing item reads as nil", func(t *testing.T) {
		assert.Nil(t, get(t, store, "P#1", "METADATA"))
	})

	t.Run("round trip keeps every attribute type", func(t *testing.T) {
		item := key("P#1", "METADATA")
		item["name"] = s("Mug")
		item["price"] = n("1299")
		item["active"] = &types.AttributeValueMemberBOOL{Value: true}
		item["tags"] = &types.AttributeValueMemberSS{Value: []string{"kitchen", "gift"}}
		item["dims"] = &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{"h": n("10")}}
		item["notes"] = &types.AttributeValueMemberL{Value: []types.AttributeValue{s("a"), &types.AttributeValueMemberNULL{Value: true}}}
		put(t, store, item)

		got := get(t, store, "P#1", "METADATA")
		assert.Equal(t, item, got)
	})

	t.Run("conditional put on existing item fails with old item", func(t *testing.T) {
		cond, err := expression.NewBuilder().WithCondition(expression.AttributeNotExists(expression.Name("PK"))).Build()
		require.NoError(t, err)

		_, err = store.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:                           aws.String(testTable),
			Item:                                key("P#1", "METADATA"),
			ConditionExpression:                 cond.Condition(),
			ExpressionAttributeNames:            cond.Names(),
			ExpressionAttributeValues:           cond.Values(),
			ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
		})
		var ccf *types.ConditionalCheckFailedException
		require.True(t, errors.As(err, &ccf))
		assert.Equal(t, s("Mug"), ccf.Item["name"])
	})

	t.Run("delete returns old attributes", func(t *testing.T) {
		out, err := store.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName:    aws.String(testTable),
			Key:          key("P#1", "METADATA"),
			ReturnValues: types.ReturnValueAllOld,
		})
		require.NoError(t, err)
		assert.Equal(t, s("Mug"), out.Attributes["name"])
		assert.Nil(t, get(t, store, "P#1", "METADATA"))
	})

	t.Run("empty key value is rejected", func(t *testing.T) {
		_, err := store.PutItem(ctx, &dynamodb.PutItemInput{TableName: aws.String(testTable), Item: key("", "METADATA")})
		assert.True(t, IsValidation(err))
	})

	t.Run("empty index key is rejected", func(t *testing.T) {
		item := key("P#2", "METADATA")
		item["GSI1PK"] = s("")
		item["GSI1SK"] = s("x")
		_, err := store.PutItem(ctx, &dynamodb.PutItemInput{TableName: aws.String(testTable), Item: item})
		assert.True(t, IsValidation(err))
	})

	t.Run("unused placeholder is rejected", func(t *testing.T) {
		_, err := store.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:                aws.String(testTable),
			Item:                     key("P#3", "METADATA"),
			ConditionExpression:      aws.String("attribute_not_exists(#pk)"),
			ExpressionAttributeNames: map[string]string{"#pk": "PK", "#other": "name"},
		})
		assert.True(t, IsValidation(err))
	})
}

func TestStore_UpdateItem(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	item := key("P#1", "VARIANT#V1")
	item["stock"] = n("5")
	item["version"] = n("1")
	put(t, store, item)

	decrement := func(by int) (*dynamodb.UpdateItemOutput, error) {
		upd := expression.Set(expression.Name("stock"), expression.Name("stock").Plus(expression.Value(-by))).
			Set(expression.Name("version"), expression.Name("version").Plus(expression.Value(1)))
		cond := expression.AttributeExists(expression.Name("PK")).
			And(expression.Name("stock").GreaterThanEqual(expression.Value(by)))
		e, err := expression.NewBuilder().WithUpdate(upd).WithCondition(cond).Build()
		require.NoError(t, err)
		return store.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:                 aws.String(testTable),
			Key:                       key("P#1", "VARIANT#V1"),
			UpdateExpression:          e.Update(),
			ConditionExpression:       e.Condition(),
			ExpressionAttributeNames:  e.Names(),
			ExpressionAttributeValues: e.Values(),
			ReturnValues:              types.ReturnValueAllNew,
		})
	}

	t.Run("arithmetic against the old item", func(t *testing.T) {
		out, err := decrement(2)
		require.NoError(t, err)
		assert.Equal(t, n("3"), out.Attributes["stock"])
		assert.Equal(t, n("2"), out.Attributes["version"])
	})

	t.Run("guarded decrement fails without writing", func(t *testing.T) {
		_, err := decrement(4)
		var ccf *types.ConditionalCheckFailedException
		require.True(t, errors.As(err, &ccf))
		assert.Equal(t, n("3"), get(t, store, "P#1", "VARIANT#V1")["stock"])
	})

	t.Run("add, if_not_exists and remove", func(t *testing.T) {
		upd := expression.Add(expression.Name("redemptions"), expression.Value(1)).
			Set(expression.Name("created"), expression.IfNotExists(expression.Name("created"), expression.Value("2024-01-01"))).
			Remove(expression.Name("version"))
		e, err := expression.NewBuilder().WithUpdate(upd).Build()
		require.NoError(t, err)

		out, err := store.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:                 aws.String(testTable),
			Key:                       key("P#1", "VARIANT#V1"),
			UpdateExpression:          e.Update(),
			ExpressionAttributeNames:  e.Names(),
			ExpressionAttributeValues: e.Values(),
			ReturnValues:              types.ReturnValueUpdatedNew,
		})
		require.NoError(t, err)
		assert.Equal(t, map[string]types.AttributeValue{
			"redemptions": n("1"),
			"created":     s("2024-01-01"),
		}, out.Attributes)
		assert.NotContains(t, get(t, store, "P#1", "VARIANT#V1"), "version")
	})

	t.Run("upsert creates the item", func(t *testing.T) {
		upd := expression.Add(expression.Name("value"), expression.Value(1))
		e, err := expression.NewBuilder().WithUpdate(upd).Build()
		require.NoError(t, err)

		for i := 0; i < 3; i++ {
			_, err = store.UpdateItem(ctx, &dynamodb.UpdateItemInput{
				TableName:                 aws.String(testTable),
				Key:                       key("COUNTER#ORDER", "METADATA"),
				UpdateExpression:          e.Update(),
				ExpressionAttributeNames:  e.Names(),
				ExpressionAttributeValues: e.Values(),
			})
			require.NoError(t, err)
		}
		assert.Equal(t, n("3"), get(t, store, "COUNTER#ORDER", "METADATA")["value"])
	})

	t.Run("key attributes cannot change", func(t *testing.T) {
		_, err := store.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:                 aws.String(testTable),
			Key:                       key("P#1", "VARIANT#V1"),
			UpdateExpression:          aws.String("SET #sk = :sk"),
			ExpressionAttributeNames:  map[string]string{"#sk": "SK"},
			ExpressionAttributeValues: map[string]types.AttributeValue{":sk": s("OTHER")},
		})
		assert.True(t, IsValidation(err))
	})
}
