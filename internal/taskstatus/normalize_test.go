package taskstatus

import (
	"testing"

	"genflow/internal/domain"
)

func TestNormalize(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name    string
		stage   domain.Stage
		raw     string
		state   State
		url     string
		err     string
		adapter string
	}{
		{
			name:    "state success with encoded result json",
			stage:   domain.StageImage,
			raw:     `{"code":200,"msg":"success","data":{"taskId":"t1","state":"success","resultJson":"{\"resultUrls\":[\"https://cdn.example.com/a.png\"]}"}}`,
			state:   Success,
			url:     "https://cdn.example.com/a.png",
			adapter: "state",
		},
		{
			name:    "state fail carries fail message",
			stage:   domain.StageImage,
			raw:     `{"code":200,"data":{"state":"fail","failMsg":"content policy violation"}}`,
			state:   Failed,
			err:     "content policy violation",
			adapter: "state",
		},
		{
			name:    "state generating is pending",
			stage:   domain.StageImage,
			raw:     `{"code":200,"data":{"state":"generating"}}`,
			state:   Pending,
			adapter: "state",
		},
		{
			name:    "success flag with response urls",
			stage:   domain.StageVideo,
			raw:     `{"code":200,"data":{"successFlag":1,"response":{"resultUrls":["https://cdn.example.com/v.mp4"]}}}`,
			state:   Success,
			url:     "https://cdn.example.com/v.mp4",
			adapter: "success_flag",
		},
		{
			name:    "success flag as string failure",
			stage:   domain.StageVideo,
			raw:     `{"code":200,"data":{"successFlag":"3","errorMessage":"quota exhausted"}}`,
			state:   Failed,
			err:     "quota exhausted",
			adapter: "success_flag",
		},
		{
			name:    "success flag zero is pending",
			stage:   domain.StageVideo,
			raw:     `{"code":200,"data":{"successFlag":0}}`,
			state:   Pending,
			adapter: "success_flag",
		},
		{
			name:    "dashscope succeeded",
			stage:   domain.StageImage,
			raw:     `{"request_id":"r","output":{"task_id":"t","task_status":"SUCCEEDED","results":[{"url":"https://dashscope.example.com/x.png"}]}}`,
			state:   Success,
			url:     "https://dashscope.example.com/x.png",
			adapter: "dashscope",
		},
		{
			name:    "dashscope failed without message",
			stage:   domain.StageImage,
			raw:     `{"output":{"task_status":"FAILED"}}`,
			state:   Failed,
			err:     "task failed",
			adapter: "dashscope",
		},
		{
			name:  "url without state is success",
			stage: domain.StageMerge,
			raw:   `{"taskId":"m1","videoUrl":"https://cdn.example.com/merged.mp4"}`,
			state: Success,
			url:   "https://cdn.example.com/merged.mp4",
		},
		{
			name:    "success without url keeps polling",
			stage:   domain.StageVideo,
			raw:     `{"code":200,"data":{"successFlag":1,"response":{"resultUrls":[]}}}`,
			state:   Pending,
			adapter: "success_flag",
		},
		{
			name:    "state wins over success flag",
			stage:   domain.StageImage,
			raw:     `{"data":{"state":"success","successFlag":2,"resultUrls":["https://cdn.example.com/b.png"]},"code":200}`,
			state:   Success,
			url:     "https://cdn.example.com/b.png",
			adapter: "state",
		},
		{
			name:    "generic status string",
			stage:   domain.StageMerge,
			raw:     `{"status":"completed","url":"https://cdn.example.com/final.mp4"}`,
			state:   Success,
			url:     "https://cdn.example.com/final.mp4",
			adapter: "status",
		},
		{
			name:  "malformed payload is pending",
			stage: domain.StageImage,
			raw:   `{"data": {"state": "succ`,
			state: Pending,
		},
		{
			name:    "malformed payload with failure flag",
			stage:   domain.StageVideo,
			raw:     `{"data": {"successFlag": 3, "errorMessage": "boom"`,
			state:   Failed,
			err:     "provider reported failure in malformed payload",
			adapter: "raw",
		},
		{
			name:  "empty payload",
			stage: domain.StageImage,
			raw:   "  ",
			state: Pending,
		},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := Normalize(tc.stage, []byte(tc.raw))
			if got.State != tc.state {
				t.Fatalf("State = %s, want %s (result %#v)", got.State, tc.state, got)
			}
			if got.URL != tc.url {
				t.Fatalf("URL = %q, want %q", got.URL, tc.url)
			}
			if got.Error != tc.err {
				t.Fatalf("Error = %q, want %q", got.Error, tc.err)
			}
			if got.Adapter != tc.adapter {
				t.Fatalf("Adapter = %q, want %q", got.Adapter, tc.adapter)
			}
		})
	}
}

func TestNormalizeStagePrefersMatchingArtifact(t *testing.T) {
	raw := []byte(`{"videoUrl":"https://cdn.example.com/clip.mp4","info":{"resultImageUrl":"https://cdn.example.com/thumb.png"}}`)

	if got := Normalize(domain.StageVideo, raw); got.URL != "https://cdn.example.com/clip.mp4" {
		t.Fatalf("video stage URL = %q", got.URL)
	}
	if got := Normalize(domain.StageImage, raw); got.URL != "https://cdn.example.com/thumb.png" {
		t.Fatalf("image stage URL = %q", got.URL)
	}
}

func TestNormalizeKeepsAllResultURLs(t *testing.T) {
	raw := []byte(`{"data":{"state":"success","resultJson":"{\"resultUrls\":[\"https://a\",\" \",\"https://b\"]}"}}`)
	got := Normalize(domain.StageImage, raw)
	if len(got.URLs) != 2 || got.URLs[1] != "https://b" {
		t.Fatalf("URLs = %#v", got.URLs)
	}
}
