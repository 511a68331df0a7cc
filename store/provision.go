package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog"
)

// TableDefinition returns the CreateTable request for the single table:
// PK/SK plus three overloaded GSIs projecting all attributes, and a stream
// carrying both images for the stream handler
func TableDefinition(tableName string) *dynamodb.CreateTableInput {
	attrs := []string{AttrPK, AttrSK, AttrGSI1PK, AttrGSI1SK, AttrGSI2PK, AttrGSI2SK, AttrGSI3PK, AttrGSI3SK}
	defs := make([]types.AttributeDefinition, len(attrs))
	for i, a := range attrs {
		defs[i] = types.AttributeDefinition{
			AttributeName: aws.String(a),
			AttributeType: types.ScalarAttributeTypeS,
		}
	}

	var gsis []types.GlobalSecondaryIndex
	for _, index := range []string{IndexUnique, IndexListing, IndexSecondary} {
		pk, sk := IndexAttributes(index)
		gsis = append(gsis, types.GlobalSecondaryIndex{
			IndexName: aws.String(index),
			KeySchema: []types.KeySchemaElement{
				{AttributeName: aws.String(pk), KeyType: types.KeyTypeHash},
				{AttributeName: aws.String(sk), KeyType: types.KeyTypeRange},
			},
			Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
		})
	}

	return &dynamodb.CreateTableInput{
		TableName:            aws.String(tableName),
		TableClass:           types.TableClassStandard,
		BillingMode:          types.BillingModePayPerRequest,
		AttributeDefinitions: defs,
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(AttrPK), KeyType: types.KeyTypeHash},
			{AttributeName: aws.String(AttrSK), KeyType: types.KeyTypeRange},
		},
		GlobalSecondaryIndexes: gsis,
		StreamSpecification: &types.StreamSpecification{
			StreamEnabled:  aws.Bool(true),
			StreamViewType: types.StreamViewTypeNewAndOldImages,
		},
	}
}

// EnsureTable creates the table when it does not exist, waits for it to
// become active and enables expiry on the ttl attribute. An existing table
// is left as it is.
func EnsureTable(ctx context.Context, admin TableAdmin, tableName string, logger zerolog.Logger) error {
	startTime := time.Now()

	_, err := admin.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(tableName)})
	if err == nil {
		logger.Debug().Str("table", tableName).Msg("table exists")
		return nil
	}
	var nf *types.ResourceNotFoundException
	if !errors.As(err, &nf) {
		return fmt.Errorf("failed to describe table %s: %w", tableName, err)
	}

	if _, err := admin.CreateTable(ctx, TableDefinition(tableName)); err != nil {
		return fmt.Errorf("failed to create table %s: %w", tableName, err)
	}

	waiter := dynamodb.NewTableExistsWaiter(admin, func(o *dynamodb.TableExistsWaiterOptions) {
		o.MinDelay = 2 * time.Second
		o.MaxDelay = 30 * time.Second
	})
	if _, err := waiter.WaitForOutput(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(tableName)}, 3*time.Minute); err != nil {
		return fmt.Errorf("failed waiting for table %s to become active: %w", tableName, err)
	}

	_, err = admin.UpdateTimeToLive(ctx, &dynamodb.UpdateTimeToLiveInput{
		TableName: aws.String(tableName),
		TimeToLiveSpecification: &types.TimeToLiveSpecification{
			AttributeName: aws.String(AttrTTL),
			Enabled:       aws.Bool(true),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to update TTL on table %s: %w", tableName, err)
	}

	logger.Info().
		Str("table", tableName).
		Dur("duration", time.Since(startTime)).
		Msg("table created")
	return nil
}
