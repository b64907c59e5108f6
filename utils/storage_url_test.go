package utils

import "testing"

func TestExtractObjectKeyFromURL(t *testing.T) {
	cases := []struct {
		in     string
		bucket string
		key    string
	}{
		{"gs://carousel-images/gen_1/hero.jpg", "carousel-images", "gen_1/hero.jpg"},
		{"https://storage.googleapis.com/carousel-images/gen_1/slide-2.png", "carousel-images", "gen_1/slide-2.png"},
		{"https://storage.cloud.google.com/carousel-videos/gen_1/video.mp4", "carousel-videos", "gen_1/video.mp4"},
		{"https://carousel-images.storage.googleapis.com/gen_1/hero.jpg", "carousel-images", "gen_1/hero.jpg"},
	}
	for _, c := range cases {
		bucket, key := ExtractObjectKeyFromURL(c.in)
		if bucket != c.bucket || key != c.key {
			t.Errorf("ExtractObjectKeyFromURL(%q) = %q, %q; want %q, %q", c.in, bucket, key, c.bucket, c.key)
		}
	}
}

func TestBuildObjectAccessURL_Default(t *testing.T) {
	t.Setenv("STORAGE_ACCESS_BASE_URL", "")
	t.Setenv("GCS_URL", "")
	got := BuildObjectAccessURL("carousel-images", "gen_1/hero.jpg")
	want := "https://storage.googleapis.com/carousel-images/gen_1/hero.jpg"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestBuildObjectAccessURL_Override(t *testing.T) {
	t.Setenv("STORAGE_ACCESS_BASE_URL", "https://cdn.example.com/{bucket}/{objectKey}")
	got := BuildObjectAccessURL("carousel-images", "gen_1/hero.jpg")
	want := "https://cdn.example.com/carousel-images/gen_1/hero.jpg"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}
