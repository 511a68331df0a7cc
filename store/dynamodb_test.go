package store

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog"
	"github.com/sicko7947/shopstore"
)

// mockDynamoDBClient implements DynamoDBClient interface for testing
type mockDynamoDBClient struct {
	putItemFunc            func(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	getItemFunc            func(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	updateItemFunc         func(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	deleteItemFunc         func(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	queryFunc              func(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	batchWriteItemFunc     func(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
	transactWriteItemsFunc func(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

func (m *mockDynamoDBClient) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	if m.putItemFunc != nil {
		return m.putItemFunc(ctx, params, optFns...)
	}
	return &dynamodb.PutItemOutput{}, nil
}

func (m *mockDynamoDBClient) GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	if m.getItemFunc != nil {
		return m.getItemFunc(ctx, params, optFns...)
	}
	return &dynamodb.GetItemOutput{}, nil
}

func (m *mockDynamoDBClient) UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	if m.updateItemFunc != nil {
		return m.updateItemFunc(ctx, params, optFns...)
	}
	return &dynamodb.UpdateItemOutput{}, nil
}

func (m *mockDynamoDBClient) DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	if m.deleteItemFunc != nil {
		return m.deleteItemFunc(ctx, params, optFns...)
	}
	return &dynamodb.DeleteItemOutput{}, nil
}

func (m *mockDynamoDBClient) Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	if m.queryFunc != nil {
		return m.queryFunc(ctx, params, optFns...)
	}
	return &dynamodb.QueryOutput{}, nil
}

func (m *mockDynamoDBClient) BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	if m.batchWriteItemFunc != nil {
		return m.batchWriteItemFunc(ctx, params, optFns...)
	}
	return &dynamodb.BatchWriteItemOutput{}, nil
}

func (m *mockDynamoDBClient) TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	if m.transactWriteItemsFunc != nil {
		return m.transactWriteItemsFunc(ctx, params, optFns...)
	}
	return &dynamodb.TransactWriteItemsOutput{}, nil
}

func newMockStore(client *mockDynamoDBClient) *DynamoDBStore {
	cfg := shopstore.DefaultConfig
	cfg.TableName = "test-table"
	cfg.RetryDelayMs = 1
	return NewDynamoDBStore(client, cfg, WithLogger(zerolog.Nop()))
}

func attrS(item map[string]types.AttributeValue, name string) string {
	if v, ok := item[name].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func TestNewDynamoDBStore(t *testing.T) {
	store := newMockStore(&mockDynamoDBClient{})

	if store == nil {
		t.Fatal("NewDynamoDBStore() returned nil")
	}
	if store.TableName() != "test-table" {
		t.Errorf("TableName() = %s, want test-table", store.TableName())
	}

	var _ shopstore.ProductStore = store.Products()
}

func TestCounterService_Next(t *testing.T) {
	var captured *dynamodb.UpdateItemInput

	client := &mockDynamoDBClient{
		updateItemFunc: func(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
			captured = params
			return &dynamodb.UpdateItemOutput{
				Attributes: map[string]types.AttributeValue{
					AttrValue: &types.AttributeValueMemberN{Value: "7"},
				},
			}, nil
		},
	}

	store := newMockStore(client)
	got, err := store.Counters().Next(context.Background(), CounterOrderID)
	if err != nil {
		t.Fatalf("Next() failed: %v", err)
	}
	if got != 7 {
		t.Errorf("Next() = %d, want 7", got)
	}

	if captured == nil {
		t.Fatal("UpdateItem was not called")
	}
	if *captured.TableName != "test-table" {
		t.Errorf("TableName = %s, want test-table", *captured.TableName)
	}
	if pk := attrS(captured.Key, AttrPK); pk != PKCounter {
		t.Errorf("PK = %s, want %s", pk, PKCounter)
	}
	if sk := attrS(captured.Key, AttrSK); sk != CounterOrderID {
		t.Errorf("SK = %s, want %s", sk, CounterOrderID)
	}
	if captured.ReturnValues != types.ReturnValueUpdatedNew {
		t.Errorf("ReturnValues = %s, want UPDATED_NEW", captured.ReturnValues)
	}
	if !strings.Contains(aws.ToString(captured.UpdateExpression), "if_not_exists") {
		t.Errorf("UpdateExpression = %s, want an if_not_exists increment", aws.ToString(captured.UpdateExpression))
	}
	if captured.ConditionExpression != nil {
		t.Errorf("counter increment must not be conditional, got %s", *captured.ConditionExpression)
	}
}

func TestCounterService_Next_ThrottleIsNotRetried(t *testing.T) {
	calls := 0
	client := &mockDynamoDBClient{
		updateItemFunc: func(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
			calls++
			return nil, &smithy.GenericAPIError{Code: "ProvisionedThroughputExceededException", Message: "slow down"}
		},
	}

	_, err := newMockStore(client).Counters().Next(context.Background(), CounterProductID)
	if !shopstore.IsThrottled(err) {
		t.Fatalf("expected THROTTLED, got %v", err)
	}
	if !shopstore.IsRetryable(err) {
		t.Error("throttling should be reported as retryable")
	}
	if calls != 1 {
		t.Errorf("UpdateItem called %d times, want 1", calls)
	}
}

func TestCounterService_Next_EmptyName(t *testing.T) {
	_, err := newMockStore(&mockDynamoDBClient{}).Counters().Next(context.Background(), "")
	if !shopstore.IsValidation(err) {
		t.Errorf("expected VALIDATION, got %v", err)
	}
}

func TestProductRepository_Get(t *testing.T) {
	var captured *dynamodb.GetItemInput
	client := &mockDynamoDBClient{
		getItemFunc: func(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
			captured = params
			return &dynamodb.GetItemOutput{}, nil
		},
	}

	_, err := newMockStore(client).Products().Get(context.Background(), 42, false)
	if !shopstore.IsNotFound(err) {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}

	if captured == nil {
		t.Fatal("GetItem was not called")
	}
	if !aws.ToBool(captured.ConsistentRead) {
		t.Error("point reads must be strongly consistent")
	}
	if pk := attrS(captured.Key, AttrPK); pk != "PRODUCT#42" {
		t.Errorf("PK = %s, want PRODUCT#42", pk)
	}
}

func TestProductRepository_Get_DecodeMismatch(t *testing.T) {
	client := &mockDynamoDBClient{
		getItemFunc: func(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
			return &dynamodb.GetItemOutput{Item: map[string]types.AttributeValue{
				AttrPK:         &types.AttributeValueMemberS{Value: "PRODUCT#42"},
				AttrSK:         &types.AttributeValueMemberS{Value: SKMetadata},
				AttrEntityType: &types.AttributeValueMemberS{Value: EntityTypeOrder},
			}}, nil
		},
	}

	_, err := newMockStore(client).Products().Get(context.Background(), 42, false)
	if shopstore.ErrorCode(err) != shopstore.ErrCodeDecode {
		t.Errorf("expected DECODE error, got %v", err)
	}
}

func TestProductRepository_Create_ReservesSlug(t *testing.T) {
	var captured *dynamodb.TransactWriteItemsInput
	var indexQueried string

	client := &mockDynamoDBClient{
		queryFunc: func(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
			indexQueried = aws.ToString(params.IndexName)
			return &dynamodb.QueryOutput{}, nil
		},
		transactWriteItemsFunc: func(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
			captured = params
			return &dynamodb.TransactWriteItemsOutput{}, nil
		},
	}

	p := &shopstore.Product{ID: 42, Slug: "mug", Name: "Mug", PriceCents: 1200, Status: shopstore.ProductStatusActive}
	created, err := newMockStore(client).Products().Create(context.Background(), p)
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	if created.Version != 1 {
		t.Errorf("Version = %d, want 1", created.Version)
	}
	if indexQueried != IndexUnique {
		t.Errorf("advisory pre-check queried %q, want %s", indexQueried, IndexUnique)
	}

	if captured == nil {
		t.Fatal("TransactWriteItems was not called")
	}
	if len(captured.TransactItems) != 2 {
		t.Fatalf("expected entity and guard puts, got %d items", len(captured.TransactItems))
	}

	entity := captured.TransactItems[0].Put
	if entity == nil {
		t.Fatal("first item should be the entity put")
	}
	if attrS(entity.Item, AttrGSI1PK) != "PRODUCT_SLUG#mug" {
		t.Errorf("GSI1PK = %s", attrS(entity.Item, AttrGSI1PK))
	}
	if attrS(entity.Item, AttrEntityType) != EntityTypeProduct {
		t.Errorf("entity_type = %s", attrS(entity.Item, AttrEntityType))
	}
	if !strings.Contains(aws.ToString(entity.ConditionExpression), "attribute_not_exists") {
		t.Errorf("entity put must be conditioned on absence, got %s", aws.ToString(entity.ConditionExpression))
	}

	guard := captured.TransactItems[1].Put
	if guard == nil {
		t.Fatal("second item should be the guard put")
	}
	if attrS(guard.Item, AttrPK) != "UNIQUE#PRODUCT_SLUG#mug" {
		t.Errorf("guard PK = %s", attrS(guard.Item, AttrPK))
	}
	if attrS(guard.Item, AttrOwnerPK) != "PRODUCT#42" || attrS(guard.Item, AttrOwnerSK) != SKMetadata {
		t.Errorf("guard owner = %s/%s", attrS(guard.Item, AttrOwnerPK), attrS(guard.Item, AttrOwnerSK))
	}
}

func TestProductRepository_Create_GuardTaken(t *testing.T) {
	client := &mockDynamoDBClient{
		transactWriteItemsFunc: func(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
			return nil, &types.TransactionCanceledException{
				Message: aws.String("Transaction cancelled"),
				CancellationReasons: []types.CancellationReason{
					{Code: aws.String(ReasonNone)},
					{Code: aws.String(ReasonConditionalCheckFailed)},
				},
			}
		},
	}

	p := &shopstore.Product{ID: 42, Slug: "mug", Name: "Mug", Status: shopstore.ProductStatusActive}
	_, err := newMockStore(client).Products().Create(context.Background(), p)
	if !shopstore.IsConflict(err) {
		t.Fatalf("expected CONFLICT, got %v", err)
	}

	var se *shopstore.StoreError
	if !errors.As(err, &se) {
		t.Fatal("expected a StoreError")
	}
	if se.Details["field"] != UniqueProductSlug {
		t.Errorf("details field = %v, want %s", se.Details["field"], UniqueProductSlug)
	}
}

func TestProductRepository_Create_PrecheckConflict(t *testing.T) {
	transacted := false
	client := &mockDynamoDBClient{
		queryFunc: func(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
			return &dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{
				ProductKey(7).AttributeValues(),
			}}, nil
		},
		transactWriteItemsFunc: func(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
			transacted = true
			return &dynamodb.TransactWriteItemsOutput{}, nil
		},
	}

	p := &shopstore.Product{ID: 42, Slug: "mug", Name: "Mug", Status: shopstore.ProductStatusActive}
	_, err := newMockStore(client).Products().Create(context.Background(), p)
	if !shopstore.IsConflict(err) {
		t.Fatalf("expected CONFLICT, got %v", err)
	}
	if transacted {
		t.Error("no write should be attempted once the slug is seen on the index")
	}
}

func TestRepository_SoftDelete_ConditionFailures(t *testing.T) {
	tests := []struct {
		name string
		old  map[string]types.AttributeValue
		is   func(error) bool
	}{
		{"missing row", nil, shopstore.IsNotFound},
		{"already deleted", map[string]types.AttributeValue{
			AttrPK:        &types.AttributeValueMemberS{Value: "PRODUCT#42"},
			AttrDeletedAt: &types.AttributeValueMemberS{Value: "2024-03-15T10:30:00Z"},
		}, shopstore.IsConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var captured *dynamodb.UpdateItemInput
			client := &mockDynamoDBClient{
				updateItemFunc: func(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
					captured = params
					return nil, &types.ConditionalCheckFailedException{Message: aws.String("failed"), Item: tt.old}
				},
			}

			err := newMockStore(client).Products().SoftDelete(context.Background(), 42)
			if !tt.is(err) {
				t.Fatalf("unexpected error: %v", err)
			}
			if captured.ReturnValuesOnConditionCheckFailure != types.ReturnValuesOnConditionCheckFailureAllOld {
				t.Error("soft delete should ask for the old image on failure")
			}
		})
	}
}

func TestTransact_ItemLimit(t *testing.T) {
	called := false
	client := &mockDynamoDBClient{
		transactWriteItemsFunc: func(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
			called = true
			return &dynamodb.TransactWriteItemsOutput{}, nil
		},
	}

	store := newMockStore(client)
	items := make([]types.TransactWriteItem, store.Config().MaxTransactItems+1)
	err := store.Transact(context.Background(), items, "")

	if !shopstore.IsValidation(err) {
		t.Errorf("expected VALIDATION, got %v", err)
	}
	if called {
		t.Error("oversized transaction must not be submitted")
	}
}

func TestTransact_ClientRequestToken(t *testing.T) {
	var token *string
	client := &mockDynamoDBClient{
		transactWriteItemsFunc: func(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
			token = params.ClientRequestToken
			return &dynamodb.TransactWriteItemsOutput{}, nil
		},
	}

	store := newMockStore(client)
	if err := store.Transact(context.Background(), []types.TransactWriteItem{{}}, "order-9"); err != nil {
		t.Fatalf("Transact() failed: %v", err)
	}
	if aws.ToString(token) != "order-9" {
		t.Errorf("ClientRequestToken = %v, want order-9", aws.ToString(token))
	}

	if err := store.Transact(context.Background(), []types.TransactWriteItem{{}}, ""); err != nil {
		t.Fatalf("Transact() failed: %v", err)
	}
	if token != nil {
		t.Errorf("empty token should leave ClientRequestToken unset, got %s", *token)
	}
}

func TestClassify(t *testing.T) {
	key := OrderKey(9)

	tests := []struct {
		name      string
		err       error
		code      string
		retryable bool
	}{
		{"condition failed", &types.ConditionalCheckFailedException{Message: aws.String("x")}, shopstore.ErrCodeConflict, false},
		{"token mismatch", &types.IdempotentParameterMismatchException{Message: aws.String("x")}, shopstore.ErrCodeConflict, false},
		{"cancelled by condition", &types.TransactionCanceledException{CancellationReasons: []types.CancellationReason{
			{Code: aws.String(ReasonConditionalCheckFailed)},
		}}, shopstore.ErrCodeTransactionAborted, false},
		{"cancelled by conflict", &types.TransactionCanceledException{CancellationReasons: []types.CancellationReason{
			{Code: aws.String(ReasonNone)},
			{Code: aws.String(ReasonTransactionConflict)},
		}}, shopstore.ErrCodeTransactionAborted, true},
		{"in progress", &types.TransactionInProgressException{Message: aws.String("x")}, shopstore.ErrCodeTransactionAborted, true},
		{"throttled", &smithy.GenericAPIError{Code: "ThrottlingException", Message: "rate"}, shopstore.ErrCodeThrottled, true},
		{"other api error", &smithy.GenericAPIError{Code: "ValidationException", Message: "bad"}, shopstore.ErrCodeInternalError, false},
		{"plain", errors.New("connection reset"), shopstore.ErrCodeInternalError, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify(tt.err, "update order", EntityTypeOrder, key)
			if code := shopstore.ErrorCode(got); code != tt.code {
				t.Errorf("code = %s, want %s (%v)", code, tt.code, got)
			}
			if shopstore.IsRetryable(got) != tt.retryable {
				t.Errorf("retryable = %v, want %v", !tt.retryable, tt.retryable)
			}
			if !errors.Is(got, tt.err) {
				t.Error("classified error should wrap the native error")
			}
		})
	}
}

func TestClassify_PassesThrough(t *testing.T) {
	if classify(nil, "get", "", Key{}) != nil {
		t.Error("nil should stay nil")
	}

	typed := shopstore.NewNotFoundError(EntityTypeOrder, "ORDER#9/METADATA")
	if got := classify(typed, "get", "", Key{}); got != error(typed) {
		t.Errorf("typed errors should pass through, got %v", got)
	}

	got := classify(context.DeadlineExceeded, "get", "", Key{})
	if !errors.Is(got, context.DeadlineExceeded) {
		t.Errorf("context errors should stay inspectable, got %v", got)
	}
}

func TestBatchPut_ChunksAndRetries(t *testing.T) {
	var sizes []int
	retried := false

	client := &mockDynamoDBClient{
		batchWriteItemFunc: func(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
			reqs := params.RequestItems["test-table"]
			sizes = append(sizes, len(reqs))
			if !retried && len(reqs) == 25 {
				retried = true
				return &dynamodb.BatchWriteItemOutput{
					UnprocessedItems: map[string][]types.WriteRequest{"test-table": reqs[:2]},
				}, nil
			}
			return &dynamodb.BatchWriteItemOutput{}, nil
		},
	}

	items := make([]map[string]types.AttributeValue, 30)
	for i := range items {
		items[i] = NotificationKey(shopstore.Pad(i, 3)).AttributeValues()
	}

	left, err := newMockStore(client).BatchPut(context.Background(), items)
	if err != nil {
		t.Fatalf("BatchPut() failed: %v", err)
	}
	if len(left) != 0 {
		t.Errorf("expected nothing unprocessed, got %d", len(left))
	}

	want := []int{25, 2, 5}
	if len(sizes) != len(want) {
		t.Fatalf("batch sizes = %v, want %v", sizes, want)
	}
	for i := range want {
		if sizes[i] != want[i] {
			t.Errorf("batch sizes = %v, want %v", sizes, want)
			break
		}
	}
}

func TestBatchPut_GivesUp(t *testing.T) {
	calls := 0
	client := &mockDynamoDBClient{
		batchWriteItemFunc: func(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
			calls++
			return &dynamodb.BatchWriteItemOutput{UnprocessedItems: params.RequestItems}, nil
		},
	}

	store := newMockStore(client)
	items := []map[string]types.AttributeValue{NotificationKey("a").AttributeValues()}

	left, err := store.BatchPut(context.Background(), items)
	if err == nil {
		t.Fatal("expected an error once retries run out")
	}
	if len(left) != 1 {
		t.Errorf("expected the item back, got %d", len(left))
	}
	if calls != store.Config().WriteRetries+1 {
		t.Errorf("BatchWriteItem called %d times, want %d", calls, store.Config().WriteRetries+1)
	}
}
