package report

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"go.uber.org/zap"

	"trades-rl/internal/backtest"
	"trades-rl/internal/model"
	"trades-rl/internal/signal"
)

const (
	statesPrefix       = "states_and_results_"
	transactionsPrefix = "transactions_"
)

// Store 将回测结果写入数据目录。
type Store struct {
	dir    string
	logger *zap.Logger
}

// NewStore 创建结果存储，目录不存在时自动创建。
func NewStore(dir string, logger *zap.Logger) (*Store, error) {
	if dir == "" {
		return nil, errors.New("report: 数据目录不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("report: 创建目录 %q 失败: %w", dir, err)
	}
	return &Store{dir: dir, logger: logger}, nil
}

// Saved 描述一次落盘的文件。
type Saved struct {
	Suffix           string
	StatesPath       string
	TransactionsPath string
}

// Save 写入拼接后的状态结果表与交易列表。若该会话已有结果文件，追加 _1、_2… 后缀。
// 文件以独占方式创建，并发保存同一会话时各自得到不同后缀。
func (s *Store) Save(session string, columns []string, rows []backtest.ResultRow, transactions []backtest.Transaction) (Saved, error) {
	if err := model.ValidateSession(session); err != nil {
		return Saved{}, fmt.Errorf("report: %w", err)
	}

	n, err := s.firstFreeRun(session)
	if err != nil {
		return Saved{}, err
	}

	for ; ; n++ {
		suffix := runSuffix(n)
		saved := Saved{
			Suffix:           suffix,
			StatesPath:       s.statesPath(session, suffix),
			TransactionsPath: s.transactionsPath(session, suffix),
		}

		states, txFile, err := claim(saved)
		if err != nil {
			return Saved{}, err
		}
		if states == nil {
			continue
		}

		err = writeTransactions(txFile, saved.TransactionsPath, transactions)
		if statesErr := writeStates(states, saved.StatesPath, columns, rows); err == nil {
			err = statesErr
		}
		if err != nil {
			_ = os.Remove(saved.StatesPath)
			_ = os.Remove(saved.TransactionsPath)
			return Saved{}, err
		}

		s.logger.Info("回测结果已保存",
			zap.String("session", session),
			zap.String("states", saved.StatesPath),
			zap.String("transactions", saved.TransactionsPath),
		)
		return saved, nil
	}
}

// claim 以 O_EXCL 同时占用两个结果文件。任一文件已存在时释放已占用的文件并返回 nil。
func claim(saved Saved) (*os.File, *os.File, error) {
	states, err := createExclusive(saved.StatesPath)
	if err != nil || states == nil {
		return nil, nil, err
	}
	txFile, err := createExclusive(saved.TransactionsPath)
	if err != nil || txFile == nil {
		_ = states.Close()
		_ = os.Remove(saved.StatesPath)
		return nil, nil, err
	}
	return states, txFile, nil
}

func createExclusive(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("report: 创建 %q 失败: %w", path, err)
	}
	return f, nil
}

// LoadTransactions 读取某个交易文件。
func LoadTransactions(path string) ([]backtest.Transaction, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("report: 读取 %q 失败: %w", path, err)
	}
	var txs []backtest.Transaction
	if err := json.Unmarshal(data, &txs); err != nil {
		return nil, fmt.Errorf("report: 解析 %q 失败: %w", path, err)
	}
	return txs, nil
}

// firstFreeRun 返回第一个两个文件都不存在的回测序号，0 表示无后缀。
func (s *Store) firstFreeRun(session string) (int, error) {
	taken := func(suffix string) (bool, error) {
		for _, p := range []string{s.statesPath(session, suffix), s.transactionsPath(session, suffix)} {
			_, err := os.Stat(p)
			if err == nil {
				return true, nil
			}
			if !errors.Is(err, fs.ErrNotExist) {
				return false, fmt.Errorf("report: 检查文件 %q 失败: %w", p, err)
			}
		}
		return false, nil
	}

	for n := 0; ; n++ {
		used, err := taken(runSuffix(n))
		if err != nil {
			return 0, err
		}
		if !used {
			return n, nil
		}
	}
}

func runSuffix(n int) string {
	if n == 0 {
		return ""
	}
	return "_" + strconv.Itoa(n)
}

func (s *Store) statesPath(session, suffix string) string {
	return filepath.Join(s.dir, statesPrefix+session+suffix+".csv")
}

func (s *Store) transactionsPath(session, suffix string) string {
	return filepath.Join(s.dir, transactionsPrefix+session+suffix+".json")
}

func writeStates(f *os.File, path string, columns []string, rows []backtest.ResultRow) (err error) {
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("report: 关闭 %q 失败: %w", path, closeErr)
		}
	}()

	features := append([]string(nil), columns...)
	sort.Strings(features)

	w := csv.NewWriter(f)
	header := append([]string{signal.TimestampColumn}, features...)
	header = append(header, "action", "value_account", "value_assets", "reward", "loss")
	if err := w.Write(header); err != nil {
		return fmt.Errorf("report: 写入表头失败: %w", err)
	}

	record := make([]string, len(header))
	for _, r := range rows {
		record = record[:0]
		record = append(record, strconv.FormatInt(r.Signal.Timestamp, 10))
		for _, c := range features {
			record = append(record, formatFloat(r.Signal.Features[c]))
		}
		record = append(record,
			strconv.Itoa(r.Step.Action),
			formatFloat(r.Step.ValueAccount),
			formatFloat(r.Step.ValueAssets),
			formatFloat(r.Step.Reward),
			formatFloat(r.Step.Loss),
		)
		if err := w.Write(record); err != nil {
			return fmt.Errorf("report: 写入数据行失败: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("report: 写入 %q 失败: %w", path, err)
	}
	return nil
}

func writeTransactions(f *os.File, path string, transactions []backtest.Transaction) error {
	if transactions == nil {
		transactions = []backtest.Transaction{}
	}
	data, err := json.Marshal(transactions)
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("report: 序列化交易失败: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("report: 写入 %q 失败: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("report: 关闭 %q 失败: %w", path, err)
	}
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
