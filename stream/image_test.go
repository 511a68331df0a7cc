package stream

import (
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// --- getStringAttr Tests ---

func TestGetStringAttr_ExistingString(t *testing.T) {
	image := map[string]events.DynamoDBAttributeValue{
		"sku": events.NewStringAttribute("MUG-BLUE"),
	}

	if got := getStringAttr(image, "sku"); got != "MUG-BLUE" {
		t.Errorf("expected 'MUG-BLUE', got %q", got)
	}
}

func TestGetStringAttr_MissingKey(t *testing.T) {
	image := map[string]events.DynamoDBAttributeValue{
		"other": events.NewStringAttribute("value"),
	}

	if got := getStringAttr(image, "sku"); got != "" {
		t.Errorf("expected empty string for missing key, got %q", got)
	}
}

func TestGetStringAttr_NilImage(t *testing.T) {
	var image map[string]events.DynamoDBAttributeValue

	if got := getStringAttr(image, "sku"); got != "" {
		t.Errorf("expected empty string for nil image, got %q", got)
	}
}

func TestGetStringAttr_WrongType(t *testing.T) {
	image := map[string]events.DynamoDBAttributeValue{
		"sku": events.NewNumberAttribute("42"),
	}

	if got := getStringAttr(image, "sku"); got != "" {
		t.Errorf("expected empty string for number attribute, got %q", got)
	}
}

// --- getNumberAttr Tests ---

func TestGetNumberAttr_Existing(t *testing.T) {
	image := map[string]events.DynamoDBAttributeValue{
		"stock": events.NewNumberAttribute("17"),
	}

	n, ok := getNumberAttr(image, "stock")
	if !ok || n != 17 {
		t.Errorf("expected 17, got %d (ok=%v)", n, ok)
	}
}

func TestGetNumberAttr_Negative(t *testing.T) {
	image := map[string]events.DynamoDBAttributeValue{
		"stock": events.NewNumberAttribute("-3"),
	}

	n, ok := getNumberAttr(image, "stock")
	if !ok || n != -3 {
		t.Errorf("expected -3, got %d (ok=%v)", n, ok)
	}
}

func TestGetNumberAttr_Missing(t *testing.T) {
	if _, ok := getNumberAttr(map[string]events.DynamoDBAttributeValue{}, "stock"); ok {
		t.Error("expected ok=false for missing key")
	}
}

func TestGetNumberAttr_Fractional(t *testing.T) {
	image := map[string]events.DynamoDBAttributeValue{
		"stock": events.NewNumberAttribute("1.5"),
	}

	if _, ok := getNumberAttr(image, "stock"); ok {
		t.Error("expected ok=false for a fractional number")
	}
}

func TestGetNumberAttr_WrongType(t *testing.T) {
	image := map[string]events.DynamoDBAttributeValue{
		"stock": events.NewStringAttribute("17"),
	}

	if _, ok := getNumberAttr(image, "stock"); ok {
		t.Error("expected ok=false for string attribute")
	}
}

// --- hasAttr Tests ---

func TestHasAttr(t *testing.T) {
	image := map[string]events.DynamoDBAttributeValue{
		"deleted_at": events.NewStringAttribute("2024-03-15T10:30:00Z"),
		"cleared":    events.NewNullAttribute(),
	}

	if !hasAttr(image, "deleted_at") {
		t.Error("expected deleted_at to be present")
	}
	if hasAttr(image, "cleared") {
		t.Error("expected a NULL attribute to count as absent")
	}
	if hasAttr(image, "missing") {
		t.Error("expected missing attribute to be absent")
	}
}

// --- FromItem Tests ---

func TestFromItem_AllTypes(t *testing.T) {
	item := map[string]types.AttributeValue{
		"s":    &types.AttributeValueMemberS{Value: "x"},
		"n":    &types.AttributeValueMemberN{Value: "7"},
		"b":    &types.AttributeValueMemberB{Value: []byte{1}},
		"bool": &types.AttributeValueMemberBOOL{Value: true},
		"ss":   &types.AttributeValueMemberSS{Value: []string{"a", "b"}},
		"l":    &types.AttributeValueMemberL{Value: []types.AttributeValue{&types.AttributeValueMemberS{Value: "e"}}},
		"m":    &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{"k": &types.AttributeValueMemberN{Value: "1"}}},
		"null": &types.AttributeValueMemberNULL{Value: true},
	}

	image := FromItem(item)

	want := map[string]events.DynamoDBDataType{
		"s":    events.DataTypeString,
		"n":    events.DataTypeNumber,
		"b":    events.DataTypeBinary,
		"bool": events.DataTypeBoolean,
		"ss":   events.DataTypeStringSet,
		"l":    events.DataTypeList,
		"m":    events.DataTypeMap,
		"null": events.DataTypeNull,
	}
	for k, dt := range want {
		if got := image[k].DataType(); got != dt {
			t.Errorf("%s: expected data type %v, got %v", k, dt, got)
		}
	}
	if got := image["m"].Map()["k"].Number(); got != "1" {
		t.Errorf("expected nested number 1, got %q", got)
	}
	if got := image["l"].List()[0].String(); got != "e" {
		t.Errorf("expected list element 'e', got %q", got)
	}
}

func TestFromItem_Nil(t *testing.T) {
	if FromItem(nil) != nil {
		t.Error("expected nil image for nil item")
	}
}

// --- ExpiryRecord Tests ---

func TestExpiryRecord(t *testing.T) {
	item := map[string]types.AttributeValue{
		"PK":          &types.AttributeValueMemberS{Value: "CART#abc"},
		"SK":          &types.AttributeValueMemberS{Value: "METADATA"},
		"entity_type": &types.AttributeValueMemberS{Value: "Cart"},
	}

	record := ExpiryRecord("sweep-1", item)

	if record.EventName != string(events.DynamoDBOperationTypeRemove) {
		t.Errorf("expected REMOVE, got %s", record.EventName)
	}
	if !expiredByTTL(record) {
		t.Error("expected the record to carry the TTL service identity")
	}
	if len(record.Change.Keys) != 2 {
		t.Errorf("expected 2 key attributes, got %d", len(record.Change.Keys))
	}
	if record.Change.NewImage != nil {
		t.Error("expected no new image on a REMOVE record")
	}
	if record.Change.SequenceNumber != "sweep-1" {
		t.Errorf("expected sequence number 'sweep-1', got %q", record.Change.SequenceNumber)
	}
}
