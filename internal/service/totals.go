package service

// Totals 金额增量计算结果，全部为最小货币单位整数
type Totals struct {
	UnitPrice              int64
	OldLineTotal           int64
	NewLineTotal           int64
	Delta                  int64
	NewOrderTotal          int64
	NewAuthorizationAmount int64
	// UsedTaxExclusive 为 true 表示含税单价缺失，退回了不含税基准价。
	// 调用方必须显式记录这次降级。
	UsedTaxExclusive bool
}

// ComputeTotals 纯函数。优先使用含税单价，缺失时退回不含税价并打降级标记。
func ComputeTotals(unitPriceInclTax, unitPrice, oldQuantity, newQuantity, orderTotal, authorizationAmount int64) Totals {
	unit := unitPriceInclTax
	usedTaxExclusive := false
	if unit == 0 {
		unit = unitPrice
		usedTaxExclusive = true
	}

	oldLineTotal := unit * oldQuantity
	newLineTotal := unit * newQuantity
	delta := newLineTotal - oldLineTotal

	return Totals{
		UnitPrice:              unit,
		OldLineTotal:           oldLineTotal,
		NewLineTotal:           newLineTotal,
		Delta:                  delta,
		NewOrderTotal:          orderTotal + delta,
		NewAuthorizationAmount: authorizationAmount + delta,
		UsedTaxExclusive:       usedTaxExclusive,
	}
}

// ComputeForModification 从校验快照取数
func ComputeForModification(v *ValidatedModification) Totals {
	var inclTax, base int64
	if v.Item != nil {
		inclTax, base = v.Item.UnitPriceInclTax, v.Item.UnitPrice
	} else if v.Variant != nil {
		inclTax, base = v.Variant.UnitPriceInclTax, v.Variant.UnitPrice
	}
	return ComputeTotals(inclTax, base, v.OldQuantity, v.NewQuantity, v.Order.Total, v.Authorization.Amount)
}
