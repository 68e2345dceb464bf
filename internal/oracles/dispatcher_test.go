package oracles

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/kpioracles/oracle-answerer/internal/database"
	"github.com/kpioracles/oracle-answerer/internal/scanner"
	"github.com/kpioracles/oracle-answerer/internal/specification"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

type DispatcherTestSuite struct {
	suite.Suite
	store      *memStore
	reader     *fakeReader
	fetcher    *fakeFetcher
	finalizer  *mockFinalizer
	tvl        *mockTVL
	dispatcher *Dispatcher
	ctx        context.Context
}

func TestDispatcherTestSuite(t *testing.T) {
	suite.Run(t, &DispatcherTestSuite{})
}

func (suite *DispatcherTestSuite) SetupTest() {
	suite.store = newMemStore()
	suite.reader = scenarioReader()
	suite.fetcher = &fakeFetcher{specs: map[string]*specification.Specification{
		"QmA": tvlSpec("aave"),
		"QmB": tvlSpec("uniswap"),
	}}
	suite.finalizer = &mockFinalizer{}
	suite.tvl = &mockTVL{}
	suite.ctx = context.Background()

	validator := fakeValidator{valid: map[string]bool{"aave": true, "uniswap": true}}
	suite.dispatcher = NewDispatcher(
		testChainID,
		NewExtractor(testTemplateID, suite.reader, testLog),
		NewAcknowledger(testChainID, suite.fetcher, validator, suite.store, nil, 4, testLog),
		NewSweeper(testChainID, suite.store, suite.finalizer, suite.tvl, time.Minute, testLog),
		suite.store,
		testLog,
	)
}

func (suite *DispatcherTestSuite) checkpoint() (uint64, bool) {
	suite.store.mu.Lock()
	defer suite.store.mu.Unlock()

	block, ok := suite.store.checkpoints[testChainID]

	return block, ok
}

func (suite *DispatcherTestSuite) TestNewLogAcknowledgesEligibleOracle() {
	suite.dispatcher.OnUpdate(suite.ctx, scanner.NewLog{Log: createTokenLog(tokenAddress, 150)})

	stored, err := suite.store.ListActiveOracles(suite.ctx, testChainID)
	suite.Require().NoError(err)
	suite.Require().Len(stored, 1)
	suite.Equal(oracleB.Hex(), stored[0].Address)
	suite.Equal(testChainID, stored[0].ChainID)
	suite.Equal([]string{"QmB"}, suite.fetcher.fetched)

	_, ok := suite.checkpoint()
	suite.False(ok, "logs never move the checkpoint")
}

func (suite *DispatcherTestSuite) TestNewLogExtractionFailureIsNotFatal() {
	suite.reader.listErr = errors.New("execution reverted")

	suite.dispatcher.OnUpdate(suite.ctx, scanner.NewLog{Log: createTokenLog(tokenAddress, 150)})
	suite.Zero(suite.store.count())

	suite.reader.listErr = nil
	suite.dispatcher.OnUpdate(suite.ctx, scanner.NewLog{Log: createTokenLog(tokenAddress, 151)})
	suite.Equal(1, suite.store.count())
}

func (suite *DispatcherTestSuite) TestPastBatchesAdvanceCheckpoint() {
	suite.dispatcher.OnUpdate(suite.ctx, scanner.PastBatchCompleted{FromBlock: 100, ToBlock: 200, ProgressPercentage: 50})
	block, _ := suite.checkpoint()
	suite.Equal(uint64(200), block)
	suite.True(suite.dispatcher.ScanningPast())

	suite.dispatcher.OnUpdate(suite.ctx, scanner.PastBatchCompleted{FromBlock: 200, ToBlock: 300, ProgressPercentage: 100})
	block, _ = suite.checkpoint()
	suite.Equal(uint64(300), block)
	suite.False(suite.dispatcher.ScanningPast())
}

func (suite *DispatcherTestSuite) TestNewBlockDuringReplayDoesNotAdvanceCheckpoint() {
	suite.dispatcher.OnUpdate(suite.ctx, scanner.PastBatchCompleted{FromBlock: 100, ToBlock: 200, ProgressPercentage: 50})
	suite.dispatcher.OnUpdate(suite.ctx, scanner.NewBlock{Number: 250, Timestamp: measurement})

	block, _ := suite.checkpoint()
	suite.Equal(uint64(200), block)
}

func (suite *DispatcherTestSuite) TestNewBlockWhenLiveAdvancesCheckpoint() {
	suite.dispatcher.OnUpdate(suite.ctx, scanner.PastBatchCompleted{FromBlock: 200, ToBlock: 300, ProgressPercentage: 100})
	suite.dispatcher.OnUpdate(suite.ctx, scanner.NewBlock{Number: 301, Timestamp: measurement})

	block, _ := suite.checkpoint()
	suite.Equal(uint64(301), block)
	suite.finalizer.AssertNotCalled(suite.T(), "Finalize", mock.Anything, mock.Anything, mock.Anything)
}

func (suite *DispatcherTestSuite) TestNewBlockAnswersBeforeCheckpoint() {
	suite.Require().NoError(suite.store.CreateActiveOracle(suite.ctx, &database.ActiveOracle{
		ChainID:              testChainID,
		Address:              oracleB.Hex(),
		Specification:        *tvlSpec("uniswap"),
		MeasurementTimestamp: measurement,
	}))
	suite.dispatcher.OnUpdate(suite.ctx, scanner.PastBatchCompleted{FromBlock: 200, ToBlock: 300, ProgressPercentage: 100})

	suite.dispatcher.OnUpdate(suite.ctx, scanner.NewBlock{Number: 301, Timestamp: measurement.Add(-time.Second)})
	suite.True(suite.store.has(testChainID, oracleB))

	value := big.NewInt(10)
	suite.finalizer.On("Finalized", mock.Anything, oracleB).Return(false, nil).Once()
	suite.tvl.On("TVLAt", mock.Anything, "uniswap", measurement).Return(value, nil).Once()
	suite.finalizer.On("Finalize", mock.Anything, oracleB, value).
		Run(func(mock.Arguments) {
			block, _ := suite.checkpoint()
			suite.Equal(uint64(301), block, "checkpoint must trail the sweep")
		}).
		Return(nil).Once()

	suite.dispatcher.OnUpdate(suite.ctx, scanner.NewBlock{Number: 302, Timestamp: measurement.Add(time.Second)})
	suite.False(suite.store.has(testChainID, oracleB))

	block, _ := suite.checkpoint()
	suite.Equal(uint64(302), block)
	suite.finalizer.AssertExpectations(suite.T())
}

func (suite *DispatcherTestSuite) TestCheckpointFailureIsNotFatal() {
	suite.store.checkpointErr = errors.New("db unavailable")
	suite.dispatcher.OnUpdate(suite.ctx, scanner.PastBatchCompleted{FromBlock: 200, ToBlock: 300, ProgressPercentage: 100})
	suite.False(suite.dispatcher.ScanningPast())

	suite.store.checkpointErr = nil
	suite.dispatcher.OnUpdate(suite.ctx, scanner.NewBlock{Number: 301, Timestamp: measurement})

	block, _ := suite.checkpoint()
	suite.Equal(uint64(301), block)
	suite.Equal([]uint64{300, 301}, suite.store.checkpointLogs)
}

func (suite *DispatcherTestSuite) TestCheckpointNeverPassesProcessedBlocks() {
	updates := []scanner.Update{
		scanner.NewLog{Log: createTokenLog(tokenAddress, 120)},
		scanner.PastBatchCompleted{FromBlock: 100, ToBlock: 199, ProgressPercentage: 50},
		scanner.NewBlock{Number: 260, Timestamp: measurement.Add(-time.Hour)},
		scanner.PastBatchCompleted{FromBlock: 200, ToBlock: 299, ProgressPercentage: 100},
		scanner.NewBlock{Number: 300, Timestamp: measurement.Add(-time.Hour)},
		scanner.NewBlock{Number: 301, Timestamp: measurement.Add(-time.Hour)},
	}

	var processed uint64
	for _, update := range updates {
		switch u := update.(type) {
		case scanner.NewLog:
			processed = max(processed, u.Log.BlockNumber)
		case scanner.PastBatchCompleted:
			processed = max(processed, u.ToBlock)
		case scanner.NewBlock:
			processed = max(processed, u.Number)
		}

		suite.dispatcher.OnUpdate(suite.ctx, update)

		block, ok := suite.checkpoint()
		if ok {
			suite.LessOrEqual(block, processed)
		}
	}

	suite.Equal([]uint64{199, 299, 300, 301}, suite.store.checkpointLogs)
}
