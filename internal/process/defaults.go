package process

// Category keys used across the practice.
const (
	CategoryVATReport           = "vat_report"
	CategoryTaxAdvances         = "tax_advances"
	CategoryPayroll             = "payroll"
	CategorySocialSecurity      = "social_security"
	CategoryDeductions          = "deductions"
	CategoryBookkeeping         = "bookkeeping"
	CategoryBankReconciliation  = "bank_reconciliation"
	CategoryAnnualReport        = "annual_report"
	CategoryFinancialStatements = "financial_statements"
	CategoryConsultation        = "consultation"
)

// RegisterDefaults registers the built-in templates.
func (r *Registry) RegisterDefaults() {
	defaults := []Template{
		{
			Category: CategoryVATReport,
			Label:    "דיווח מע\"מ",
			Steps: []Step{
				{Key: "collect_invoices", Label: "איסוף חשבוניות", RequiresAttachment: true},
				{Key: "input_data", Label: "קליטת נתונים"},
				{Key: "review", Label: "בדיקה"},
				{Key: "submit_report", Label: "הגשת דוח"},
				{Key: "payment", Label: "תשלום"},
			},
		},
		{
			Category: CategoryTaxAdvances,
			Label:    "מקדמות מס הכנסה",
			Steps: []Step{
				{Key: "calculate", Label: "חישוב מקדמה"},
				{Key: "submit_report", Label: "הגשת דוח"},
				{Key: "payment", Label: "תשלום"},
			},
		},
		{
			Category: CategoryPayroll,
			Label:    "שכר",
			Steps: []Step{
				{Key: "receive_attendance", Label: "קבלת נוכחות", RequiresAttachment: true},
				{Key: "prepare_payslips", Label: "הפקת תלושים"},
				{Key: "send_payslips", Label: "שליחת תלושים"},
				{Key: "bank_transfer", Label: "העברה בנקאית", Note: "לאחר אישור הלקוח"},
			},
		},
		{
			Category: CategorySocialSecurity,
			Label:    "ביטוח לאומי",
			Steps: []Step{
				{Key: "prepare_report", Label: "הכנת דוח 102"},
				{Key: "submit_report", Label: "הגשת דוח"},
				{Key: "payment", Label: "תשלום"},
			},
		},
		{
			Category: CategoryDeductions,
			Label:    "ניכויים",
			Steps: []Step{
				{Key: "prepare_report", Label: "הכנת דוח ניכויים"},
				{Key: "submit_report", Label: "הגשת דוח"},
				{Key: "payment", Label: "תשלום"},
			},
		},
		{
			Category: CategoryBookkeeping,
			Label:    "הנהלת חשבונות",
			Steps: []Step{
				{Key: "collect_documents", Label: "איסוף מסמכים", RequiresAttachment: true},
				{Key: "record_entries", Label: "רישום תנועות"},
				{Key: "review", Label: "בדיקה"},
			},
		},
		{
			Category: CategoryBankReconciliation,
			Label:    "התאמת בנקים",
			Steps: []Step{
				{Key: "download_statements", Label: "הורדת דפי בנק", RequiresAttachment: true},
				{Key: "match_entries", Label: "התאמת תנועות"},
				{Key: "resolve_differences", Label: "טיפול בהפרשים"},
			},
		},
		{
			Category: CategoryAnnualReport,
			Label:    "דוח שנתי",
			Steps: []Step{
				{Key: "collect_documents", Label: "איסוף מסמכים", RequiresAttachment: true},
				{Key: "prepare_report", Label: "הכנת דוח"},
				{Key: "client_approval", Label: "אישור לקוח"},
				{Key: "submit_report", Label: "הגשה"},
			},
		},
		{
			Category: CategoryFinancialStatements,
			Label:    "דוחות כספיים",
			Steps: []Step{
				{Key: "trial_balance", Label: "מאזן בוחן"},
				{Key: "adjustments", Label: "פקודות תיאום"},
				{Key: "draft", Label: "טיוטה"},
				{Key: "sign", Label: "חתימה"},
			},
		},
		{
			Category: CategoryConsultation,
			Label:    "ייעוץ",
			Steps: []Step{
				{Key: "meeting", Label: "פגישה"},
				{Key: "summary", Label: "סיכום"},
			},
		},
	}

	for _, t := range defaults {
		_ = r.Register(t)
	}
}
