package report

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"trades-rl/internal/model"
)

// RunSummary 汇总同一会话下某一次回测的交易表现。
type RunSummary struct {
	File                       string  `json:"file"`
	Run                        int     `json:"run"`
	NumberOfTransactions       int     `json:"number_of_transactions"`
	NumberOfTransactionsProfit int     `json:"number_of_transactions_profit"`
	NumberOfTransactionsLoss   int     `json:"number_of_transactions_loss"`
	OverallProfit              float64 `json:"overall_profit"`
}

type runFile struct {
	name string
	run  int
}

// Summary 读取会话的全部交易文件（含 _n 后缀的重复回测），按回测顺序返回汇总。
// 没有任何文件时返回空列表。
func (s *Store) Summary(session string) ([]RunSummary, error) {
	files, err := s.runFiles(session)
	if err != nil {
		return nil, err
	}

	out := make([]RunSummary, 0, len(files))
	for _, f := range files {
		txs, err := LoadTransactions(filepath.Join(s.dir, f.name))
		if err != nil {
			return nil, err
		}

		summary := RunSummary{File: f.name, Run: f.run, NumberOfTransactions: len(txs)}
		var total float64
		for _, tx := range txs {
			switch {
			case tx.Profit > 0:
				summary.NumberOfTransactionsProfit++
			case tx.Profit < 0:
				summary.NumberOfTransactionsLoss++
			}
			total += tx.Profit
		}
		if len(txs) > 0 && txs[0].Starting != 0 {
			summary.OverallProfit = total / txs[0].Starting
		}
		out = append(out, summary)
	}
	return out, nil
}

func (s *Store) runFiles(session string) ([]runFile, error) {
	if err := model.ValidateSession(session); err != nil {
		return nil, fmt.Errorf("report: %w", err)
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("report: 读取目录 %q 失败: %w", s.dir, err)
	}

	pattern := regexp.MustCompile(`^` + regexp.QuoteMeta(transactionsPrefix+session) + `(?:_(\d+))?\.json$`)
	files := make([]runFile, 0)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := pattern.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		run := 0
		if m[1] != "" {
			n, err := strconv.Atoi(m[1])
			if err != nil {
				continue
			}
			run = n
		}
		files = append(files, runFile{name: e.Name(), run: run})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].run < files[j].run })
	return files, nil
}
