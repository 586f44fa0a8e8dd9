package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
)

// 并发切换互动的压测：多个用户同时对同一目标点赞/点踩，
// 结束后调用管理接口重算，对比压测期间维护的计数是否漂移。

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type counts struct {
	Like    int64 `json:"like"`
	Dislike int64 `json:"dislike"`
}

// -------------------- 统计 --------------------

type APITestStats struct {
	TotalRequests      int
	SuccessfulRequests int
	Conflicts          int
	FailedRequests     int
	totalLatency       time.Duration
	MaxLatency         time.Duration
	MinLatency         time.Duration
	mu                 sync.Mutex
}

func (s *APITestStats) Add(code int, latency time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.TotalRequests++
	switch code {
	case 0:
		s.SuccessfulRequests++
		s.totalLatency += latency
		if latency > s.MaxLatency {
			s.MaxLatency = latency
		}
		if s.MinLatency == 0 || latency < s.MinLatency {
			s.MinLatency = latency
		}
	case 409:
		s.Conflicts++
	default:
		s.FailedRequests++
	}
}

func (s *APITestStats) AverageLatency() time.Duration {
	if s.SuccessfulRequests == 0 {
		return 0
	}
	return s.totalLatency / time.Duration(s.SuccessfulRequests)
}

// -------------------- HTTP --------------------

var client = &http.Client{Timeout: 8 * time.Second}

func call(method, url, token string, body interface{}, header map[string]string) (*envelope, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("decode %s %s: %w", method, url, err)
	}
	return &env, nil
}

// register 注册压测用户并返回 token
func register(base, run string, i int) (string, error) {
	name := fmt.Sprintf("bench_%s_%d", run, i)
	env, err := call("POST", base+"/api/v1/users/register", "", map[string]string{
		"username": name,
		"email":    name + "@bench.local",
		"password": "bench123",
	}, nil)
	if err != nil {
		return "", err
	}
	if env.Code != 0 {
		return "", fmt.Errorf("register %s: %d %s", name, env.Code, env.Message)
	}
	var data struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return "", err
	}
	return data.AccessToken, nil
}

func runToggleBench(base, targetType string, targetID uint, tokens []string, perUser int) *APITestStats {
	fmt.Println("\n=== 并发互动测试开始 ===")
	fmt.Printf("目标: %s:%d 用户: %d 每用户请求: %d\n", targetType, targetID, len(tokens), perUser)

	stats := &APITestStats{}
	emojis := []string{"like", "dislike"}
	var wg sync.WaitGroup
	for _, token := range tokens {
		wg.Add(1)
		go func(token string) {
			defer wg.Done()
			for j := 0; j < perUser; j++ {
				start := time.Now()
				env, err := call("POST", base+"/api/v1/reactions", token, map[string]interface{}{
					"target_type": targetType,
					"target_id":   targetID,
					"emoji":       emojis[rand.Intn(len(emojis))],
				}, nil)
				code := -1
				if err == nil {
					code = env.Code
				}
				stats.Add(code, time.Since(start))
			}
		}(token)
	}
	wg.Wait()
	return stats
}

// -------------------- 入口 --------------------

func main() {
	base := flag.String("base", "http://localhost:8080", "服务地址")
	target := flag.String("target", "story:1", "互动目标 kind:id")
	users := flag.Int("users", 20, "并发用户数")
	perUser := flag.Int("n", 20, "每个用户的切换次数")
	adminToken := flag.String("admin-token", os.Getenv("ADMIN_TOKEN"), "X-Admin-Token")
	flag.Parse()

	var targetID uint
	parts := strings.SplitN(*target, ":", 2)
	if len(parts) != 2 {
		fmt.Println("target 格式应为 kind:id")
		os.Exit(2)
	}
	if _, err := fmt.Sscanf(parts[1], "%d", &targetID); err != nil || targetID == 0 {
		fmt.Println("target id 无效")
		os.Exit(2)
	}
	targetType := parts[0]

	fmt.Println("=== StoryHub 互动计数一致性压测 ===")
	fmt.Printf("开始时间: %s\n", time.Now().Format("2006-01-02 15:04:05"))

	run := fmt.Sprintf("%d", time.Now().Unix())
	tokens := make([]string, 0, *users)
	for i := 0; i < *users; i++ {
		token, err := register(*base, run, i)
		if err != nil {
			fmt.Println("注册失败:", err)
			os.Exit(1)
		}
		tokens = append(tokens, token)
	}

	start := time.Now()
	stats := runToggleBench(*base, targetType, targetID, tokens, *perUser)
	took := time.Since(start)

	fmt.Println("\n=== 测试结果 ===")
	fmt.Printf("耗时: %v\n", took)
	fmt.Printf("总请求: %d 成功: %d 冲突: %d 失败: %d\n",
		stats.TotalRequests, stats.SuccessfulRequests, stats.Conflicts, stats.FailedRequests)
	fmt.Printf("延迟 平均: %v 最大: %v 最小: %v\n", stats.AverageLatency(), stats.MaxLatency, stats.MinLatency)
	if took > 0 {
		fmt.Printf("QPS: %.2f\n", float64(stats.SuccessfulRequests)/took.Seconds())
	}

	if *adminToken == "" {
		fmt.Println("\n未提供 admin token，跳过一致性校验")
		return
	}

	env, err := call("POST", fmt.Sprintf("%s/api/v1/admin/reconcile/%s/%d", *base, targetType, targetID), "", nil,
		map[string]string{"X-Admin-Token": *adminToken})
	if err != nil || env.Code != 0 {
		fmt.Println("一致性校验失败:", err, env)
		os.Exit(1)
	}
	var result struct {
		Before    counts `json:"before"`
		Reactions counts `json:"reactions"`
		Drifted   bool   `json:"drifted"`
	}
	if err := json.Unmarshal(env.Data, &result); err != nil {
		fmt.Println("解析校验结果失败:", err)
		os.Exit(1)
	}
	fmt.Printf("\n计数: like=%d dislike=%d 重算: like=%d dislike=%d\n",
		result.Before.Like, result.Before.Dislike, result.Reactions.Like, result.Reactions.Dislike)
	if result.Drifted {
		fmt.Println("=== 发现计数漂移 ===")
		os.Exit(1)
	}
	fmt.Println("=== 计数一致 ===")
}
