package repository

import (
	"strings"
	"testing"

	"backoffice/src/database"
	"backoffice/src/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newSQLiteDB(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, database.Migrate(db))
	return db
}

type fixture struct {
	Account    model.Account
	Base       model.Asset
	Quote      model.Asset
	Instrument model.Instrument
}

func seedDirectory(t *testing.T, db *gorm.DB) fixture {
	t.Helper()

	f := fixture{
		Account: model.Account{ExternalID: 7001, Name: "acme", Status: model.AccountStatusVerified},
		Base:    model.Asset{ExternalID: 11, Name: "AAPL", QuantityPrecision: 2, Status: model.AssetStatusActive},
		Quote:   model.Asset{ExternalID: 12, Name: "USD", QuantityPrecision: 2, Status: model.AssetStatusActive},
	}
	require.NoError(t, db.Create(&f.Account).Error)
	require.NoError(t, db.Create(&f.Base).Error)
	require.NoError(t, db.Create(&f.Quote).Error)

	f.Instrument = model.Instrument{
		BrokerInstrumentID:   501,
		ExchangeInstrumentID: 901,
		Symbol:               "AAPL/USD",
		BaseAssetID:          f.Base.ID,
		QuoteAssetID:         f.Quote.ID,
		PricePrecision:       2,
		QuantityPrecision:    2,
		MinQuantity:          decimal.NewFromInt(1),
		MaxQuantity:          decimal.NewFromInt(1000),
		Status:               model.InstrumentStatusActive,
	}
	require.NoError(t, db.Create(&f.Instrument).Error)

	return f
}

func seedBalance(t *testing.T, db *gorm.DB, accountID, assetID uint, free, locked int64) model.Balance {
	t.Helper()

	b := model.Balance{
		AccountID: accountID,
		AssetID:   assetID,
		Free:      decimal.NewFromInt(free),
		Locked:    decimal.NewFromInt(locked),
		Total:     decimal.NewFromInt(free + locked),
	}
	require.NoError(t, db.Create(&b).Error)
	return b
}
