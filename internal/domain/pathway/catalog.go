package pathway

// DefaultTemplates returns the seeded NHG default templates. These are the
// canonical, unmodified pathways; local practices layer overrides on top.
func DefaultTemplates() []*Template {
	return []*Template{t2dmDefault(), hypertensionDefault(), respiratoryDefault()}
}

// TemplateByID looks a template up in the seeded catalog.
func TemplateByID(id string) (*Template, bool) {
	for _, t := range DefaultTemplates() {
		if t.ID == id {
			return t, true
		}
	}
	return nil, false
}

func t2dmDefault() *Template {
	return &Template{
		ID:           "nhg-t2dm-default",
		Name:         Text{NL: "Diabetes type 2 standaardzorg", EN: "Type 2 diabetes standard care"},
		Description:  Text{NL: "NHG-standaard M01 zorgpad voor diabetes mellitus type 2", EN: "NHG standard M01 care pathway for type 2 diabetes"},
		Condition:    ConditionT2DM,
		Version:      "2024.1",
		IsNHGDefault: true,
		Steps: []Step{
			{
				ID:       "intake_consultation",
				Name:     Text{NL: "Intakeconsult", EN: "Intake consultation"},
				Trigger:  Text{NL: "Start zorgpad", EN: "Pathway start"},
				Action:   Text{NL: "Plan intakeafspraak bij de praktijkondersteuner", EN: "Schedule intake appointment with the practice nurse"},
				Delay:    0,
				Enabled:  true,
				Channels: []Channel{ChannelPhone, ChannelDashboard},
			},
			{
				ID:        "hba1c_monitoring",
				Name:      Text{NL: "HbA1c-controle", EN: "HbA1c monitoring"},
				Trigger:   Text{NL: "90 dagen na start", EN: "90 days after start"},
				Action:    Text{NL: "Laboratoriumbepaling HbA1c en bespreking uitslag", EN: "Lab test HbA1c and discuss result"},
				Delay:     90,
				Enabled:   true,
				Automated: true,
				Channels:  []Channel{ChannelSMS, ChannelEmail, ChannelDashboard},
			},
			{
				ID:       "foot_examination",
				Name:     Text{NL: "Voetonderzoek", EN: "Foot examination"},
				Trigger:  Text{NL: "180 dagen na start", EN: "180 days after start"},
				Action:   Text{NL: "Jaarlijks voetonderzoek, risicoclassificatie Simm's", EN: "Annual foot examination, Simm's risk classification"},
				Delay:    180,
				Enabled:  true,
				Channels: []Channel{ChannelEmail, ChannelDashboard},
			},
			{
				ID:        "kidney_function",
				Name:      Text{NL: "Nierfunctiecontrole", EN: "Kidney function check"},
				Trigger:   Text{NL: "180 dagen na start", EN: "180 days after start"},
				Action:    Text{NL: "Laboratoriumbepaling eGFR en albumine-creatinineratio", EN: "Lab test eGFR and albumin-creatinine ratio"},
				Delay:     180,
				Enabled:   true,
				Automated: true,
				Channels:  []Channel{ChannelSMS, ChannelEmail, ChannelDashboard},
			},
			{
				ID:       "annual_review",
				Name:     Text{NL: "Jaarcontrole", EN: "Annual review"},
				Trigger:  Text{NL: "365 dagen na start", EN: "365 days after start"},
				Action:   Text{NL: "Uitgebreide jaarcontrole bij de huisarts", EN: "Comprehensive annual review with the GP"},
				Delay:    365,
				Enabled:  true,
				Channels: []Channel{ChannelPhone, ChannelEmail, ChannelDashboard},
			},
		},
		Thresholds: map[string]float64{
			"hba1c_target":  53,
			"systolic_bp":   140,
			"ldl_target":    2.6,
			"egfr_floor":    60,
			"review_months": 3,
		},
		Summary: Summary{StepCount: 5, DurationDays: 365, Priority: "high"},
	}
}

func hypertensionDefault() *Template {
	return &Template{
		ID:           "nhg-htn-default",
		Name:         Text{NL: "Hypertensie standaardzorg", EN: "Hypertension standard care"},
		Description:  Text{NL: "NHG-standaard M84 zorgpad voor cardiovasculair risicomanagement", EN: "NHG standard M84 pathway for cardiovascular risk management"},
		Condition:    ConditionHypertension,
		Version:      "2024.1",
		IsNHGDefault: true,
		Steps: []Step{
			{
				ID:       "intake_consultation",
				Name:     Text{NL: "Intakeconsult", EN: "Intake consultation"},
				Trigger:  Text{NL: "Start zorgpad", EN: "Pathway start"},
				Action:   Text{NL: "Plan intakeafspraak en risicoprofiel", EN: "Schedule intake appointment and risk profile"},
				Delay:    0,
				Enabled:  true,
				Channels: []Channel{ChannelPhone, ChannelDashboard},
			},
			{
				ID:        "bp_monitoring",
				Name:      Text{NL: "Bloeddrukcontrole", EN: "Blood pressure monitoring"},
				Trigger:   Text{NL: "30 dagen na start", EN: "30 days after start"},
				Action:    Text{NL: "Bloeddrukmeting en leefstijladvies", EN: "Blood pressure measurement and lifestyle advice"},
				Delay:     30,
				Enabled:   true,
				Automated: true,
				Channels:  []Channel{ChannelSMS, ChannelDashboard},
			},
			{
				ID:       "medication_review",
				Name:     Text{NL: "Medicatiebeoordeling", EN: "Medication review"},
				Trigger:  Text{NL: "90 dagen na start", EN: "90 days after start"},
				Action:   Text{NL: "Beoordeling antihypertensiva en bijwerkingen", EN: "Review antihypertensive medication and side effects"},
				Delay:    90,
				Enabled:  true,
				Channels: []Channel{ChannelEmail, ChannelDashboard},
			},
			{
				ID:       "annual_review",
				Name:     Text{NL: "Jaarcontrole", EN: "Annual review"},
				Trigger:  Text{NL: "365 dagen na start", EN: "365 days after start"},
				Action:   Text{NL: "Jaarlijkse evaluatie cardiovasculair risico", EN: "Annual cardiovascular risk evaluation"},
				Delay:    365,
				Enabled:  true,
				Channels: []Channel{ChannelPhone, ChannelEmail, ChannelDashboard},
			},
		},
		Thresholds: map[string]float64{
			"systolic_bp":   140,
			"diastolic_bp":  90,
			"ldl_target":    2.6,
			"review_months": 6,
		},
		Summary: Summary{StepCount: 4, DurationDays: 365, Priority: "medium"},
	}
}

func respiratoryDefault() *Template {
	return &Template{
		ID:           "nhg-resp-default",
		Name:         Text{NL: "Astma/COPD standaardzorg", EN: "Asthma/COPD standard care"},
		Description:  Text{NL: "NHG-standaard M26/M27 zorgpad voor astma en COPD", EN: "NHG standard M26/M27 pathway for asthma and COPD"},
		Condition:    ConditionRespiratory,
		Version:      "2024.1",
		IsNHGDefault: true,
		Steps: []Step{
			{
				ID:       "intake_consultation",
				Name:     Text{NL: "Intakeconsult", EN: "Intake consultation"},
				Trigger:  Text{NL: "Start zorgpad", EN: "Pathway start"},
				Action:   Text{NL: "Plan intakeafspraak en voorlichting", EN: "Schedule intake appointment and education"},
				Delay:    0,
				Enabled:  true,
				Channels: []Channel{ChannelPhone, ChannelDashboard},
			},
			{
				ID:        "exacerbation_check",
				Name:      Text{NL: "Exacerbatiecontrole", EN: "Exacerbation check"},
				Trigger:   Text{NL: "60 dagen na start", EN: "60 days after start"},
				Action:    Text{NL: "Controle klachten en exacerbaties, zo nodig urgent consult", EN: "Check symptoms and exacerbations, urgent consult if needed"},
				Delay:     60,
				Enabled:   true,
				Automated: true,
				Channels:  []Channel{ChannelSMS, ChannelPhone, ChannelDashboard},
			},
			{
				ID:       "spirometry_check",
				Name:     Text{NL: "Spirometrie", EN: "Spirometry"},
				Trigger:  Text{NL: "180 dagen na start", EN: "180 days after start"},
				Action:   Text{NL: "Longfunctieonderzoek spirometrie", EN: "Pulmonary function test spirometry"},
				Delay:    180,
				Enabled:  true,
				Channels: []Channel{ChannelSMS, ChannelEmail, ChannelDashboard},
			},
			{
				ID:       "annual_review",
				Name:     Text{NL: "Jaarcontrole", EN: "Annual review"},
				Trigger:  Text{NL: "365 dagen na start", EN: "365 days after start"},
				Action:   Text{NL: "Jaarlijkse evaluatie behandelplan", EN: "Annual treatment plan evaluation"},
				Delay:    365,
				Enabled:  true,
				Channels: []Channel{ChannelPhone, ChannelEmail, ChannelDashboard},
			},
		},
		Thresholds: map[string]float64{
			"fev1_alert":    70,
			"review_months": 6,
		},
		Summary: Summary{StepCount: 4, DurationDays: 365, Priority: "medium"},
	}
}
