package matcher

import "testing"

func TestCountSentences(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		language string
		want     int
	}{
		{
			name:     "japanese full stops",
			text:     "こんにちは。お元気ですか？",
			language: "Japanese",
			want:     2,
		},
		{
			name:     "japanese ellipsis counts as boundary",
			text:     "そうですね…はい。",
			language: "Japanese",
			want:     2,
		},
		{
			name:     "english with comma delimiter",
			text:     "Hello, world. How are you?",
			language: "English",
			want:     3,
		},
		{
			name:     "korean",
			text:     "안녕하세요. 반갑습니다!",
			language: "Korean",
			want:     2,
		},
		{
			name:     "unknown language falls back to basic punctuation",
			text:     "One. Two! Three? Four, still four",
			language: "German",
			want:     4,
		},
		{
			name:     "whitespace-only fragments are not sentences",
			text:     ".. . !  ? ",
			language: "English",
			want:     0,
		},
		{
			name:     "trailing text without terminator still counts",
			text:     "First. Second without a period",
			language: "English",
			want:     2,
		},
		{
			name:     "empty text",
			text:     "",
			language: "Japanese",
			want:     0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CountSentences(tt.text, tt.language); got != tt.want {
				t.Errorf("CountSentences(%q, %q) = %d, want %d", tt.text, tt.language, got, tt.want)
			}
		})
	}
}
