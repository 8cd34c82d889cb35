package genrelay

import (
	"encoding/json"
	"testing"
)

func TestEntryValidator(t *testing.T) {
	validator, err := NewEntryValidator()
	if err != nil {
		t.Fatalf("validator failed to compile: %v", err)
	}

	valid := GenerationRecord{
		UserID:   "u1",
		Topic:    "product launch",
		Platform: "linkedin",
		Provider: "openai",
		Result:   json.RawMessage(`{"score":8.2,"decision":"post"}`),
	}
	if err := validator.Validate(valid); err != nil {
		t.Fatalf("expected valid entry to pass: %v", err)
	}

	missingTopic := valid
	missingTopic.Topic = ""
	if err := validator.Validate(missingTopic); err == nil {
		t.Fatalf("expected empty topic to be rejected")
	}

	missingUser := valid
	missingUser.UserID = ""
	if err := validator.Validate(missingUser); err == nil {
		t.Fatalf("expected empty user id to be rejected")
	}

	// Entries without a result payload are still saveable.
	noResult := valid
	noResult.Result = nil
	if err := validator.Validate(noResult); err != nil {
		t.Fatalf("expected entry without result to pass: %v", err)
	}
}

func TestEntryValidatorNilReceiver(t *testing.T) {
	var validator *EntryValidator
	if err := validator.Validate(GenerationRecord{}); err != nil {
		t.Fatalf("nil validator must accept everything: %v", err)
	}
}
