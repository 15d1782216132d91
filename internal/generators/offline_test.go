package generators

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestSplitSentences(t *testing.T) {
	got := SplitSentences(`Ann ran to the castle. "Wait!" cried Ben.  Night fell。月が出た。`)
	want := []string{"Ann ran to the castle.", `"Wait!"`, "cried Ben.", "Night fell。", "月が出た。"}
	if len(got) != len(want) {
		t.Fatalf("got %q", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sentence %d: got %q want %q", i, got[i], want[i])
		}
	}
}

func TestOfflineScriptIsDeterministic(t *testing.T) {
	req := TextRequest{Task: TaskScript, Vars: map[string]string{
		"chapter_title": "Chapter 1",
		"chapter_text":  `Ann walked through the forest at night. "Who goes there?" Ann asked. Ben stepped out. "Only me!" said Ben.`,
		"scene_count":   "2",
		"characters":    "Ann, Ben",
	}}
	first, err := Offline{}.GenerateText(context.Background(), req)
	if err != nil {
		t.Fatalf("GenerateText: %v", err)
	}
	second, _ := Offline{}.GenerateText(context.Background(), req)
	if first != second {
		t.Fatal("expected identical output for identical input")
	}

	var parsed struct {
		Scenes []offlineScene `json:"scenes"`
	}
	if err := DecodeJSON(first, &parsed); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(parsed.Scenes) != 2 {
		t.Fatalf("expected 2 scenes, got %d", len(parsed.Scenes))
	}
	scene := parsed.Scenes[0]
	if scene.Location != "forest" || scene.TimeOfDay != "night" {
		t.Fatalf("unexpected setting %q/%q", scene.Location, scene.TimeOfDay)
	}
	if len(scene.Dialogue) == 0 || scene.Dialogue[0].Text != "Who goes there?" || scene.Dialogue[0].Emotion != "curious" {
		t.Fatalf("unexpected dialogue %+v", scene.Dialogue)
	}
}

func TestOfflineStoryboardCyclesShots(t *testing.T) {
	scene, _ := json.Marshal(offlineScene{Title: "S", Location: "hall", TimeOfDay: "day", Summary: "One. Two.", Dialogue: []offlineLine{{Character: "A", Text: "hi"}}})
	out, err := Offline{}.GenerateText(context.Background(), TextRequest{Task: TaskStoryboard, Vars: map[string]string{
		"scene":       string(scene),
		"panel_count": "5",
	}})
	if err != nil {
		t.Fatalf("GenerateText: %v", err)
	}
	var parsed struct {
		Panels []offlinePanel `json:"panels"`
	}
	if err := json.Unmarshal([]byte(out), &parsed); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(parsed.Panels) != 5 || parsed.Panels[0].Shot != "wide" || parsed.Panels[2].Shot != "close-up" {
		t.Fatalf("unexpected panels %+v", parsed.Panels)
	}
	if parsed.Panels[0].DialogueIndex != 0 || parsed.Panels[1].DialogueIndex != -1 {
		t.Fatalf("unexpected dialogue mapping %+v", parsed.Panels)
	}
}

func TestOfflineMediaRefsAreContentAddressed(t *testing.T) {
	ctx := context.Background()
	o := Offline{}
	a, _ := o.GenerateImage(ctx, "castle", "ink", "16:9")
	b, _ := o.GenerateImage(ctx, "castle", "ink", "16:9")
	c, _ := o.GenerateImage(ctx, "castle", "ink", "9:16")
	if a != b || a == c || !strings.HasPrefix(string(a), "offline://image/") {
		t.Fatalf("unexpected refs %s %s %s", a, b, c)
	}
	if _, err := o.GenerateVideo(ctx, "", 3, Motion{}); err == nil {
		t.Fatal("expected validation error for empty source image")
	}
	if ProviderOf(o) != "offline" || ProviderOf(struct{}{}) != "unknown" {
		t.Fatal("unexpected provider names")
	}
}

func TestOfflineCharacterStable(t *testing.T) {
	a := offlineCharacter(map[string]string{"name": "Ann"})
	b := offlineCharacter(map[string]string{"name": "Ann"})
	if a["appearance"] != b["appearance"] || a["voice"] == "" {
		t.Fatalf("unexpected profiles %v %v", a, b)
	}
}
