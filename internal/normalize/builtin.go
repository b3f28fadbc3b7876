package normalize

const shanghai = "Asia/Shanghai"

// BuiltinMappings declares the venue layouts shipped with the binary.
func BuiltinMappings() Mappings {
	return Mappings{
		{Exchange: "szse", Category: CategoryOrder}: {
			TimeColumn:    "TransactTime",
			PriceColumn:   "Price",
			VolumeColumn:  "OrderQty",
			SideColumn:    "Side",
			KindColumn:    "OrderType",
			OrderIDColumn: "ApplSeqNum",
			TimeEncoding:  EncodingClock,
			Timezone:      shanghai,
			// Only limit orders carry a price; market (1) and own-best (U) rows are dropped.
			KindCodes: map[string]string{"2": "ADD"},
			SideCodes: map[string]string{"1": "BUY", "2": "SELL"},
		},
		{Exchange: "szse", Category: CategoryTrade}: {
			TimeColumn:             "TransactTime",
			PriceColumn:            "LastPx",
			VolumeColumn:           "LastQty",
			KindColumn:             "ExecType",
			BuyIDColumn:            "BidApplSeqNum",
			SellIDColumn:           "OfferApplSeqNum",
			TimeEncoding:           EncodingClock,
			Timezone:               shanghai,
			KindCodes:              map[string]string{"F": "TRADE", "4": "CANCEL"},
			CancelFromCounterparty: true,
			AggressorFromLaterID:   true,
		},
		{Exchange: "sse", Category: CategoryOrder}: {
			TimeColumn:    "OrderTime",
			PriceColumn:   "Price",
			VolumeColumn:  "Qty",
			SideColumn:    "Side",
			KindColumn:    "OrdType",
			OrderIDColumn: "OrderNo",
			TimeEncoding:  EncodingClock,
			Timezone:      shanghai,
			KindCodes:     map[string]string{"A": "ADD", "D": "CANCEL"},
			SideCodes:     map[string]string{"B": "BUY", "S": "SELL"},
		},
		{Exchange: "sse", Category: CategoryTrade}: {
			TimeColumn:   "TradeTime",
			PriceColumn:  "TradePrice",
			VolumeColumn: "TradeQty",
			SideColumn:   "TradeBSFlag",
			BuyIDColumn:  "BuyNo",
			SellIDColumn: "SellNo",
			TimeEncoding: EncodingClock,
			Timezone:     shanghai,
			SideCodes:    map[string]string{"B": "BUY", "S": "SELL", "N": ""},
			DefaultKind:  "TRADE",
		},
	}
}
