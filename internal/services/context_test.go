package services_test

import (
	"context"
	"testing"

	"dramaforge/internal/services"
)

func TestContextTagsRoundTrip(t *testing.T) {
	type tag struct {
		name string
		set  func(context.Context, string) context.Context
		get  func(context.Context) (string, bool)
	}
	tags := []tag{
		{"project", services.WithProjectID, services.ProjectIDFromContext},
		{"stage", services.WithStage, services.StageFromContext},
		{"item", services.WithItem, services.ItemFromContext},
		{"request", services.WithRequestID, services.RequestIDFromContext},
	}

	ctx := context.Background()
	for _, tg := range tags {
		ctx = tg.set(ctx, tg.name+"-value")
	}
	for _, tg := range tags {
		if got, ok := tg.get(ctx); !ok || got != tg.name+"-value" {
			t.Errorf("%s = %q, %v", tg.name, got, ok)
		}
	}

	// Empty values never shadow an outer tag.
	inner := services.WithStage(ctx, "")
	if got, _ := services.StageFromContext(inner); got != "stage-value" {
		t.Errorf("blank stage replaced outer value: %q", got)
	}
	if _, ok := services.ItemFromContext(context.Background()); ok {
		t.Error("untagged context reported an item")
	}
}
