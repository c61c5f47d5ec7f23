package providers

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/anatolykoptev/go_music/internal/engine"
)

func newSaavnServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("/search/songs", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("query") != "tum hi ho" {
			t.Errorf("query = %q", r.URL.Query().Get("query"))
		}
		w.Write([]byte(`{"success":true,"data":{"results":[
			{"id":"abc","name":"Tum Hi Ho","duration":"262",
			 "image":[{"quality":"50x50","url":"s"},{"quality":"500x500","url":"big"}],
			 "downloadUrl":[{"quality":"160kbps","url":"x"}],
			 "artists":{"primary":[{"name":"Arijit Singh"},{"name":"Mithoon &amp; Co"}]}},
			{"id":"nolink","name":"No Link","duration":200,"downloadUrl":[]}
		]}}`))
	})
	mux.HandleFunc("/songs/abc", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":true,"data":[{"id":"abc","name":"Tum Hi Ho","duration":262,
			"image":[{"quality":"500x500","url":"` + srv.URL + `/cover.jpg"}],
			"downloadUrl":[{"quality":"96kbps","url":"` + srv.URL + `/low.mp4"},{"quality":"320kbps","url":"` + srv.URL + `/high.mp4"}],
			"artists":{"primary":[{"name":"Arijit Singh"}]}}]}`))
	})
	mux.HandleFunc("/songs/nocover", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":true,"data":[{"id":"nocover","name":"Song","duration":100,
			"image":[{"quality":"500x500","url":"` + srv.URL + `/missing.jpg"}],
			"downloadUrl":[{"quality":"160kbps","url":"` + srv.URL + `/high.mp4"}]}]}`))
	})
	mux.HandleFunc("/songs/empty", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":false,"data":[]}`))
	})
	mux.HandleFunc("/high.mp4", func(w http.ResponseWriter, r *http.Request) {
		w.Write(bytes.Repeat([]byte("H"), 2048))
	})
	mux.HandleFunc("/low.mp4", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("L"))
	})
	mux.HandleFunc("/cover.jpg", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("JPEG"))
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestSaavnSearch(t *testing.T) {
	srv := newSaavnServer(t)
	s := NewSaavn(srv.URL, srv.Client())

	got, err := s.Search(context.Background(), "tum hi ho", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1 (song without links skipped)", len(got))
	}
	c := got[0]
	if c.Provider != engine.KindSaavn || c.ID != "abc" || c.Duration != 262 {
		t.Errorf("candidate = %+v", c)
	}
	if c.Artist != "Arijit Singh, Mithoon & Co" {
		t.Errorf("artist = %q", c.Artist)
	}
	if c.ThumbnailURL != "big" {
		t.Errorf("thumbnail = %q, want last image", c.ThumbnailURL)
	}
}

func TestSaavnFetch(t *testing.T) {
	srv := newSaavnServer(t)
	s := NewSaavn(srv.URL, srv.Client())
	ctx := context.Background()

	t.Run("best quality with cover", func(t *testing.T) {
		track, err := s.Fetch(ctx, "abc")
		if err != nil {
			t.Fatalf("Fetch: %v", err)
		}
		if len(track.Audio) != 2048 {
			t.Errorf("audio len = %d, want the 320kbps payload", len(track.Audio))
		}
		if string(track.Thumbnail) != "JPEG" {
			t.Errorf("thumbnail = %q", track.Thumbnail)
		}
		if track.Extension != "m4a" || track.Title != "Tum Hi Ho" {
			t.Errorf("track = %+v", track)
		}
	})

	t.Run("missing cover tolerated", func(t *testing.T) {
		track, err := s.Fetch(ctx, "nocover")
		if err != nil {
			t.Fatalf("Fetch: %v", err)
		}
		if track.Thumbnail != nil {
			t.Error("thumbnail should be empty")
		}
		if len(track.Audio) == 0 {
			t.Error("audio missing")
		}
	})

	t.Run("unsuccessful lookup", func(t *testing.T) {
		if _, err := s.Fetch(ctx, "empty"); !errors.Is(err, engine.ErrProviderUnavailable) {
			t.Errorf("err = %v, want ErrProviderUnavailable", err)
		}
	})
}

func TestBestSaavnLink(t *testing.T) {
	links := []saavnLink{{"96kbps", "a"}, {"160kbps", "b"}, {"12kbps", "c"}}
	if got := bestSaavnLink(links); got != "b" {
		t.Errorf("got %q, want b", got)
	}
	if got := bestSaavnLink(nil); got != "" {
		t.Errorf("empty list gave %q", got)
	}
}
