package stream

import (
	"strconv"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// getStringAttr extracts a string attribute from a stream image
func getStringAttr(image map[string]events.DynamoDBAttributeValue, key string) string {
	if v, ok := image[key]; ok && v.DataType() == events.DataTypeString {
		return v.String()
	}
	return ""
}

// getNumberAttr extracts an integer attribute from a stream image.
// ok is false when the attribute is missing or not a number.
func getNumberAttr(image map[string]events.DynamoDBAttributeValue, key string) (int64, bool) {
	if v, ok := image[key]; ok && v.DataType() == events.DataTypeNumber {
		n, err := strconv.ParseInt(v.Number(), 10, 64)
		return n, err == nil
	}
	return 0, false
}

func hasAttr(image map[string]events.DynamoDBAttributeValue, key string) bool {
	v, ok := image[key]
	return ok && v.DataType() != events.DataTypeNull
}

// FromItem converts a table item into a stream image. Used to replay rows
// removed by the local expiry sweeper through the handler.
func FromItem(item map[string]types.AttributeValue) map[string]events.DynamoDBAttributeValue {
	if item == nil {
		return nil
	}
	out := make(map[string]events.DynamoDBAttributeValue, len(item))
	for k, v := range item {
		out[k] = fromValue(v)
	}
	return out
}

func fromValue(v types.AttributeValue) events.DynamoDBAttributeValue {
	switch tv := v.(type) {
	case *types.AttributeValueMemberS:
		return events.NewStringAttribute(tv.Value)
	case *types.AttributeValueMemberN:
		return events.NewNumberAttribute(tv.Value)
	case *types.AttributeValueMemberB:
		return events.NewBinaryAttribute(tv.Value)
	case *types.AttributeValueMemberBOOL:
		return events.NewBooleanAttribute(tv.Value)
	case *types.AttributeValueMemberSS:
		return events.NewStringSetAttribute(tv.Value)
	case *types.AttributeValueMemberNS:
		return events.NewNumberSetAttribute(tv.Value)
	case *types.AttributeValueMemberBS:
		return events.NewBinarySetAttribute(tv.Value)
	case *types.AttributeValueMemberL:
		list := make([]events.DynamoDBAttributeValue, len(tv.Value))
		for i, e := range tv.Value {
			list[i] = fromValue(e)
		}
		return events.NewListAttribute(list)
	case *types.AttributeValueMemberM:
		m := make(map[string]events.DynamoDBAttributeValue, len(tv.Value))
		for k, e := range tv.Value {
			m[k] = fromValue(e)
		}
		return events.NewMapAttribute(m)
	}
	return events.NewNullAttribute()
}

// ExpiryRecord builds the REMOVE record the table's TTL service emits when
// it deletes item
func ExpiryRecord(eventID string, item map[string]types.AttributeValue) events.DynamoDBEventRecord {
	image := FromItem(item)
	keys := make(map[string]events.DynamoDBAttributeValue, 2)
	for _, k := range []string{"PK", "SK"} {
		if v, ok := image[k]; ok {
			keys[k] = v
		}
	}
	return events.DynamoDBEventRecord{
		EventID:     eventID,
		EventName:   string(events.DynamoDBOperationTypeRemove),
		EventSource: "aws:dynamodb",
		Change: events.DynamoDBStreamRecord{
			Keys:           keys,
			OldImage:       image,
			SequenceNumber: eventID,
			StreamViewType: string(events.DynamoDBStreamViewTypeNewAndOldImages),
		},
		UserIdentity: &events.DynamoDBUserIdentity{
			Type:        ttlServiceType,
			PrincipalID: ttlServicePrincipal,
		},
	}
}
