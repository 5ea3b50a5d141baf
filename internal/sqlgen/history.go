package sqlgen

// historyQueryTemplate is the fixed aggregation HISTORY queries run: a join
// of vehicles, customers, warranty_claims and service_history keyed by one
// VIN, never an LLM-generated statement.
// Running a template here removes the entire injection surface for the
// single most sensitive query shape (a full per-vehicle record dump) at the
// cost of not being generalizable to other identifiers.
const historyQueryTemplate = `
SELECT
	v.vin, v.model, v.year, v.purchase_date,
	c.name AS customer_name,
	wc.claim_type, wc.filed_date, wc.status, wc.amount,
	sh.service_date, sh.description, sh.mileage
FROM vehicles v
LEFT JOIN customers c ON c.id = v.customer_id
LEFT JOIN warranty_claims wc ON wc.vehicle_id = v.id
LEFT JOIN service_history sh ON sh.vehicle_id = v.id
WHERE v.vin = $1 AND v.dealership_id = $2
ORDER BY COALESCE(wc.filed_date, sh.service_date) DESC NULLS LAST
`
