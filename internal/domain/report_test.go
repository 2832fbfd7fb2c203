package domain

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"
)

func TestRunReport_Finalize_SortAndSummaryAndUTC(t *testing.T) {
	r := RunReport{
		DataDir:    "/abs/data",
		StartedAt:  time.Date(2026, 2, 9, 10, 0, 0, 0, time.FixedZone("X", 8*3600)),
		FinishedAt: time.Date(2026, 2, 9, 10, 0, 1, 0, time.FixedZone("X", 8*3600)),
		Items: []ItemResult{
			{AppID: 440, Status: StatusSkipped},
			{AppID: 0, Status: StatusFailed}, // 配置等合成项
			{AppID: 10, Status: StatusPersisted, Classification: ClassValid},
			{AppID: 570, Status: StatusPersisted, Classification: ClassTrash},
			{AppID: 730, Status: StatusFailed},
		},
	}

	r.Finalize()

	got := []AppID{r.Items[0].AppID, r.Items[1].AppID, r.Items[2].AppID, r.Items[3].AppID, r.Items[4].AppID}
	want := []AppID{10, 440, 570, 730, 0}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("items 排序不符合契约：%v", got)
		}
	}
	s := r.Summary
	if s.Requested != 4 || s.Valid != 1 || s.Trash != 1 || s.Skipped != 1 || s.Failed != 2 {
		t.Fatalf("summary 统计不正确：%+v", s)
	}

	b, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("json.Marshal 失败：%v", err)
	}
	if !bytes.Contains(b, []byte("\"started_at\":\"2026-02-09T02:00:00Z\"")) {
		t.Fatalf("started_at 不是 UTC RFC3339：%s", string(b))
	}
}

func TestRunReport_MarshalJSON_EmptyItemsIsArray(t *testing.T) {
	b, err := json.Marshal(RunReport{})
	if err != nil {
		t.Fatalf("json.Marshal 失败：%v", err)
	}
	if !bytes.Contains(b, []byte(`"items":[]`)) {
		t.Fatalf("items 应输出为空数组：%s", string(b))
	}
}

func TestParseAppID(t *testing.T) {
	cases := []struct {
		in   string
		want AppID
		ok   bool
	}{
		{" 730 ", 730, true},
		{"0", 0, false},
		{"-5", 0, false},
		{"abc", 0, false},
		{"", 0, false},
	}
	for _, c := range cases {
		got, ok := ParseAppID(c.in)
		if got != c.want || ok != c.ok {
			t.Fatalf("ParseAppID(%q) = (%d,%v)，期望 (%d,%v)", c.in, got, ok, c.want, c.ok)
		}
	}
	if u := StoreURL("https://example.test/", 730); u != "https://example.test/app/730/" {
		t.Fatalf("StoreURL 不符合预期：%q", u)
	}
}

func TestOpt_JSONAndBlank(t *testing.T) {
	type doc struct {
		A Opt[string] `json:"a"`
		B Opt[string] `json:"b"`
		C Opt[int]    `json:"c"`
	}
	b, err := json.Marshal(doc{A: Some("x"), B: None[string](), C: Some(0)})
	if err != nil {
		t.Fatalf("json.Marshal 失败：%v", err)
	}
	if string(b) != `{"a":"x","b":null,"c":0}` {
		t.Fatalf("JSON 不符合预期：%s", string(b))
	}

	var d doc
	if err := json.Unmarshal([]byte(`{"a":null,"c":3}`), &d); err != nil {
		t.Fatalf("json.Unmarshal 失败：%v", err)
	}
	if d.A.Present() || d.B.Present() {
		t.Fatalf("null/缺失字段应为 None：%+v", d)
	}
	if v, ok := d.C.Get(); !ok || v != 3 {
		t.Fatalf("c 应为 Some(3)：%+v", d.C)
	}

	if !Blank(Some("  ")) || !Blank(None[string]()) || Blank(Some("t")) {
		t.Fatalf("Blank 语义不符合预期")
	}
}

func TestRunReport_Finalize_CheckedCountsByClassification(t *testing.T) {
	r := RunReport{DryRun: true, Items: []ItemResult{
		{AppID: 1, Status: StatusChecked, Classification: ClassValid},
		{AppID: 2, Status: StatusChecked, Classification: ClassTrash},
	}}
	r.Finalize()
	if r.Summary.Valid != 1 || r.Summary.Trash != 1 || r.Summary.Requested != 2 {
		t.Fatalf("dry-run 条目应按分类计数：%+v", r.Summary)
	}
}
