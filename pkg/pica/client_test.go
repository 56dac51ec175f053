package pica

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanyeeee/picacomic-downloader/pkg/data"
)

func newTestClient(serverURL, token string) *Client {
	return NewClient(Options{
		BaseURL: serverURL + "/",
		Token:   func() string { return token },
	})
}

func envelope(data any) string {
	raw, _ := json.Marshal(map[string]any{
		"code":    200,
		"message": "success",
		"data":    data,
	})
	return string(raw)
}

func TestClient_Login(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/auth/sign-in", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)

		// Every request must carry the signed headers.
		assert.NotEmpty(t, r.Header.Get("api-key"))
		assert.NotEmpty(t, r.Header.Get("time"))
		assert.Regexp(t, "^[0-9a-f]{32}$", r.Header.Get("nonce"))
		assert.Regexp(t, "^[0-9a-f]{64}$", r.Header.Get("signature"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "user@example.com", body["email"])
		assert.Equal(t, "hunter2", body["password"])

		fmt.Fprint(w, envelope(map[string]string{"token": "fresh-token"}))
	}))
	defer server.Close()

	client := newTestClient(server.URL, "")
	token, err := client.Login(context.Background(), "user@example.com", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "fresh-token", token)
}

func TestClient_AuthExpired(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := newTestClient(server.URL, "stale")
	_, err := client.GetUserProfile(context.Background())
	assert.ErrorIs(t, err, ErrAuthExpired)
	assert.Equal(t, int32(1), calls.Load(), "401 must not be retried")
}

func TestClient_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, "wrong email or password")
	}))
	defer server.Close()

	client := newTestClient(server.URL, "")
	_, err := client.Login(context.Background(), "a", "b")
	require.Error(t, err)

	var clientErr *HTTPClientError
	require.ErrorAs(t, err, &clientErr)
	assert.Equal(t, http.StatusBadRequest, clientErr.Status)
	assert.Contains(t, clientErr.Message, "wrong email or password")
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_ServerErrorRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, envelope(map[string]any{"user": map[string]any{"_id": "u1", "name": "tester"}}))
	}))
	defer server.Close()

	client := newTestClient(server.URL, "token")
	profile, err := client.GetUserProfile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tester", profile.Name)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_DeserializeError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html>totally not json</html>")
	}))
	defer server.Close()

	client := newTestClient(server.URL, "")
	_, err := client.GetUserProfile(context.Background())

	var deserializeErr *DeserializeError
	require.ErrorAs(t, err, &deserializeErr)
	assert.Contains(t, deserializeErr.Sample, "totally not json")
}

func TestClient_SearchComic_FlexibleNumbers(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/comics/advanced-search", r.URL.Path)
		require.Equal(t, "1", r.URL.Query().Get("page"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "dd", body["sort"])

		// likesCount arrives as a string here, as the live service
		// sometimes does.
		fmt.Fprint(w, envelope(map[string]any{
			"comics": map[string]any{
				"total": 1, "limit": 20, "page": 1, "pages": 1,
				"docs": []map[string]any{{
					"_id":        "c1",
					"title":      "Some Comic",
					"author":     "Someone",
					"likesCount": "42",
					"finished":   true,
				}},
			},
		}))
	}))
	defer server.Close()

	client := newTestClient(server.URL, "token")
	result, err := client.SearchComic(context.Background(), "some", data.SortTimeNewest, 1, nil)
	require.NoError(t, err)
	require.Len(t, result.Docs, 1)
	assert.Equal(t, "c1", result.Docs[0].ID)
	assert.Equal(t, int64(42), result.Docs[0].LikesCount)
}

// chapterPageHandler serves a paginated chapter list: 25 chapters, 10 per
// page, in upstream (descending) order to exercise the client-side re-sort.
func chapterPageHandler(t *testing.T, w http.ResponseWriter, r *http.Request) {
	t.Helper()
	page := r.URL.Query().Get("page")
	var start, end int
	switch page {
	case "1":
		start, end = 25, 16
	case "2":
		start, end = 15, 6
	case "3":
		start, end = 5, 1
	default:
		t.Fatalf("unexpected chapter page %q", page)
	}
	docs := make([]map[string]any, 0, 10)
	for order := start; order >= end; order-- {
		docs = append(docs, map[string]any{
			"_id":   fmt.Sprintf("ch%d", order),
			"title": fmt.Sprintf("Chapter %d", order),
			"order": order,
		})
	}
	fmt.Fprint(w, envelope(map[string]any{
		"eps": map[string]any{
			"total": 25, "limit": 10, "page": page, "pages": 3,
			"docs": docs,
		},
	}))
}

func TestClient_GetComic_ConcatenatesChapterPages(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/comics/c1":
			fmt.Fprint(w, envelope(map[string]any{
				"comic": map[string]any{
					"_id":      "c1",
					"title":    "Paged Comic",
					"author":   "Author",
					"epsCount": 25,
				},
			}))
		case "/comics/c1/eps":
			chapterPageHandler(t, w, r)
		default:
			t.Fatalf("unexpected path %q", r.URL.Path)
		}
	}))
	defer server.Close()

	client := newTestClient(server.URL, "token")
	comic, err := client.GetComic(context.Background(), "c1")
	require.NoError(t, err)

	require.Len(t, comic.ChapterInfos, 25)
	for i, chapter := range comic.ChapterInfos {
		// Orders are dense, unique and ascending from 1.
		assert.Equal(t, int64(i+1), chapter.Order)
		assert.Equal(t, fmt.Sprintf("ch%d", i+1), chapter.ChapterID)
	}
}

func TestClient_GetChapterImages(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/comics/c1/order/2/pages", r.URL.Path)
		page := r.URL.Query().Get("page")
		var docs []map[string]any
		switch page {
		case "1":
			docs = []map[string]any{
				{"_id": "i1", "media": map[string]any{"originalName": "a.jpg", "path": "p/a.jpg", "fileServer": "https://files"}},
				{"_id": "i2", "media": map[string]any{"originalName": "b.jpg", "path": "p/b.jpg", "fileServer": "https://files"}},
			}
		case "2":
			docs = []map[string]any{
				{"_id": "i3", "media": map[string]any{"originalName": "c.jpg", "path": "p/c.jpg", "fileServer": "https://files"}},
			}
		default:
			t.Fatalf("unexpected image page %q", page)
		}
		fmt.Fprint(w, envelope(map[string]any{
			"pages": map[string]any{
				"total": 3, "limit": 2, "page": page, "pages": 2,
				"docs": docs,
			},
		}))
	}))
	defer server.Close()

	client := newTestClient(server.URL, "token")
	refs, err := client.GetChapterImages(context.Background(), "c1", 2)
	require.NoError(t, err)
	require.Len(t, refs, 3)
	assert.Equal(t, "https://files/static/p/a.jpg", refs[0].URL())
	assert.Equal(t, "https://files/static/p/c.jpg", refs[2].URL())
}

func TestClient_DownloadImage(t *testing.T) {
	payload := []byte{0xFF, 0xD8, 0xFF, 0xE0, 1, 2, 3}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/static/p/a.jpg", r.URL.Path)
		assert.Equal(t, imageReferer, r.Header.Get("Referer"))
		w.Write(payload)
	}))
	defer server.Close()

	client := newTestClient(server.URL, "")
	raw, err := client.DownloadImage(context.Background(), data.ImageRef{
		FileServer: server.URL,
		Path:       "p/a.jpg",
	})
	require.NoError(t, err)
	assert.Equal(t, payload, raw)
}

func TestClient_DownloadImage_PermanentFailure(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestClient(server.URL, "")
	_, err := client.DownloadImage(context.Background(), data.ImageRef{FileServer: server.URL, Path: "x"})
	require.Error(t, err)
	assert.Equal(t, int32(3), calls.Load(), "image fetch retries up to 3 attempts")
}

func TestClient_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := newTestClient(server.URL, "")
	_, err := client.GetUserProfile(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
