package service

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"worker-walkthrough/constant"
	"worker-walkthrough/dto"
	"worker-walkthrough/entities"
	"worker-walkthrough/pkg/apperror"
	"worker-walkthrough/pkg/videoapi"
	"worker-walkthrough/pkg/vision"
	"worker-walkthrough/repository"
)

func newTestRepo(t *testing.T) (repository.Repository, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(&entities.Project{}, &entities.Image{}, &entities.Video{}, &entities.Job{}, &entities.Subscription{}))
	return repository.NewRepoWithGorm(db), db
}

func createProject(t *testing.T, db *gorm.DB) *entities.Project {
	t.Helper()
	p := &entities.Project{UserID: uuid.New(), Name: "12 Oak Street", Status: constant.ProjectStatusClassified}
	require.NoError(t, db.Create(p).Error)
	return p
}

// createRoomImages stores n classified, uploaded images per category.
func createRoomImages(t *testing.T, db *gorm.DB, projectID uuid.UUID, n int, categories ...constant.RoomCategory) []*entities.Image {
	t.Helper()
	var out []*entities.Image
	pos := 0
	for _, c := range categories {
		for i := 0; i < n; i++ {
			features, _ := json.Marshal([]string{"hardwood floors", "large windows"})
			img := &entities.Image{
				ProjectID:  projectID,
				SourceRef:  fmt.Sprintf("%s-%d.jpg", c, i),
				StorageURL: fmt.Sprintf("https://storage.example.com/bucket/%s-%d.jpg", c, i),
				Category:   c,
				Confidence: 90 - i,
				Features:   datatypes.JSON(features),
				Status:     constant.ImageStatusAnalyzed,
				Position:   pos,
			}
			pos++
			require.NoError(t, db.Create(img).Error)
			out = append(out, img)
		}
	}
	return out
}

type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
	puts    int
}

func newMemStore() *memStore {
	return &memStore{objects: make(map[string][]byte)}
}

func (s *memStore) Put(ctx context.Context, data []byte, objectPath, contentType string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.putErr != nil {
		return "", s.putErr
	}
	s.puts++
	url := "https://storage.example.com/bucket/" + objectPath
	s.objects[url] = append([]byte(nil), data...)
	return url, nil
}

func (s *memStore) Get(ctx context.Context, url string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[url]
	if !ok {
		return nil, apperror.New(apperror.CodeStorage, "memStore.Get", "object not found: "+url)
	}
	return data, nil
}

func (s *memStore) keys(prefix string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for k := range s.objects {
		if strings.Contains(k, prefix) {
			out = append(out, k)
		}
	}
	return out
}

// fakeGenerator answers per room label, parsed back out of the prompt.
type fakeGenerator struct {
	mu           sync.Mutex
	next         int
	labels       map[string]string
	submissions  []videoapi.SubmitRequest
	submitErr    map[string]error
	failed       map[string]bool
	statusErr    map[string]error
	resultErr    map[string]error
	pendingTicks int
	statusCalls  map[string]int
	downloads    map[string]int
}

func newFakeGenerator() *fakeGenerator {
	return &fakeGenerator{
		labels:      make(map[string]string),
		submitErr:   make(map[string]error),
		failed:      make(map[string]bool),
		statusErr:   make(map[string]error),
		resultErr:   make(map[string]error),
		statusCalls: make(map[string]int),
		downloads:   make(map[string]int),
	}
}

func labelOf(prompt string) string {
	i := strings.Index(prompt, "Room: ")
	if i < 0 {
		return ""
	}
	rest := prompt[i+len("Room: "):]
	if j := strings.Index(rest, "."); j >= 0 {
		return rest[:j]
	}
	return rest
}

func (g *fakeGenerator) Submit(ctx context.Context, req videoapi.SubmitRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	label := labelOf(req.Prompt)
	if err, ok := g.submitErr[label]; ok {
		return "", err
	}
	g.next++
	id := fmt.Sprintf("req-%d", g.next)
	g.labels[id] = label
	g.submissions = append(g.submissions, req)
	return id, nil
}

func (g *fakeGenerator) Status(ctx context.Context, requestID string) (*videoapi.Status, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statusCalls[requestID]++
	if err, ok := g.statusErr[g.labels[requestID]]; ok {
		return nil, err
	}
	if g.failed[g.labels[requestID]] {
		return &videoapi.Status{State: videoapi.StateFailed, Error: "content policy violation"}, nil
	}
	if g.statusCalls[requestID] <= g.pendingTicks {
		return &videoapi.Status{State: videoapi.StateInProgress}, nil
	}
	return &videoapi.Status{State: videoapi.StateCompleted}, nil
}

func (g *fakeGenerator) Result(ctx context.Context, requestID string) (*videoapi.Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err, ok := g.resultErr[g.labels[requestID]]; ok {
		return nil, err
	}
	return &videoapi.Result{VideoURL: "https://cdn.example.com/" + requestID + ".mp4", ContentType: "video/mp4"}, nil
}

func (g *fakeGenerator) Download(ctx context.Context, url string) ([]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.downloads[url]++
	return []byte("video:" + url), nil
}

func (g *fakeGenerator) submittedLabels() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, 0, len(g.submissions))
	for _, s := range g.submissions {
		out = append(out, labelOf(s.Prompt))
	}
	return out
}

func (g *fakeGenerator) totalDownloads() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, c := range g.downloads {
		n += c
	}
	return n
}

type fakeComposer struct {
	mu    sync.Mutex
	calls []CompositionSettings
	err   error
}

func (c *fakeComposer) Compose(ctx context.Context, settings CompositionSettings) (*CompositionResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, settings)
	if c.err != nil {
		return nil, c.err
	}
	return &CompositionResult{
		VideoURL:     fmt.Sprintf("https://storage.example.com/bucket/final-%d.mp4", len(c.calls)),
		ThumbnailURL: fmt.Sprintf("https://storage.example.com/bucket/thumbnail-%d.jpg", len(c.calls)),
		Duration:     14.0,
		FileSize:     4096,
	}, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []dto.GenerationEvent
}

func (n *recordingNotifier) Publish(ctx context.Context, event dto.GenerationEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

func (n *recordingNotifier) last() dto.GenerationEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.events) == 0 {
		return dto.GenerationEvent{}
	}
	return n.events[len(n.events)-1]
}

// fakeClassifier answers by image URL suffix.
type fakeClassifier struct {
	mu      sync.Mutex
	answers map[string]*vision.Classification
	errs    map[string][]error
	calls   map[string]int
}

func newFakeClassifier() *fakeClassifier {
	return &fakeClassifier{
		answers: make(map[string]*vision.Classification),
		errs:    make(map[string][]error),
		calls:   make(map[string]int),
	}
}

func (c *fakeClassifier) Classify(ctx context.Context, imageURL string) (*vision.Classification, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for suffix, answer := range c.answers {
		if !strings.HasSuffix(imageURL, suffix) {
			continue
		}
		c.calls[suffix]++
		if errs := c.errs[suffix]; len(errs) > 0 {
			err := errs[0]
			c.errs[suffix] = errs[1:]
			return nil, err
		}
		if answer == nil {
			return nil, apperror.New(apperror.CodeInvalidResponse, "fakeClassifier", "unparseable answer")
		}
		return answer, nil
	}
	return nil, apperror.New(apperror.CodeInvalidResponse, "fakeClassifier", "unknown image "+imageURL)
}

// fakeRunner writes a stub file for every ffmpeg output and answers ffprobe with a fixed duration.
type fakeRunner struct {
	mu       sync.Mutex
	calls    [][]string
	duration string
	failOn   string
}

func (r *fakeRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	r.mu.Lock()
	r.calls = append(r.calls, append([]string{name}, args...))
	r.mu.Unlock()

	if r.failOn != "" && strings.Contains(strings.Join(args, " "), r.failOn) {
		return []byte("boom"), fmt.Errorf("%s execution failed", name)
	}
	if name == "ffprobe" {
		d := r.duration
		if d == "" {
			d = "5.000000"
		}
		return []byte(d + "\n"), nil
	}
	out := args[len(args)-1]
	if err := os.WriteFile(out, []byte(name+" output"), 0o644); err != nil {
		return nil, err
	}
	return nil, nil
}

func (r *fakeRunner) ffmpegCalls() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out [][]string
	for _, c := range r.calls {
		if c[0] == "ffmpeg" {
			out = append(out, c[1:])
		}
	}
	return out
}
