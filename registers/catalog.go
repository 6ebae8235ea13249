package registers

// currentScale converts amperes to current-sense ADC counts around the 0x800 midpoint.
const currentScale = 40.95994

func adcOffset(address uint16, mnemonic, name, description string, def int64) Spec {
	return Spec{
		Address:     address,
		Mnemonic:    mnemonic,
		Name:        name,
		Description: description,
		Default:     def,
		Range:       ZeroTo(0xFFF),
		Transform:   Identity(),
		Writable:    true,
		Readable:    true,
	}
}

// DefaultCatalog returns the controller's built-in register set.
func DefaultCatalog() []Spec {
	specs := []Spec{
		adcOffset(0x3, "Va", "Va offset", "offset for voltage measurement phase U", 0),
		adcOffset(0x4, "Vb", "Vb offset", "offset for voltage measurement phase V", 0),
		adcOffset(0x5, "Vc", "Vc offset", "offset for voltage measurement phase W", 0),
		adcOffset(0x6, "Vd", "V supply offset", "offset for voltage measurement supply / DC-bus voltage", 0),
		adcOffset(0x7, "Ia", "Ia offset", "midpoint for current measurement phase U", 0x800),
		adcOffset(0x8, "Ib", "Ib offset", "midpoint for current measurement phase V", 0x800),
		adcOffset(0x9, "Ic", "Ic offset", "midpoint for current measurement phase W", 0x800),
		adcOffset(0xA, "Is", "I supply", "midpoint for input current measurement", 0x800),
		{
			Address:     0xB,
			Mnemonic:    "Im",
			Name:        "Imax",
			Description: "max current in PID-loop output for current control",
			Default:     0x800,
			Range:       ZeroTo(0xFFF),
			Transform:   Affine(currentScale, 2048),
			Writable:    true,
			Readable:    true,
		},
		{
			Address:     0xC,
			Mnemonic:    "Il",
			Name:        "OC_lim",
			Description: "max current threshold for safety shutdown",
			Default:     3276,
			Range:       ZeroTo(0xFFF),
			Transform:   Affine(currentScale, 2048),
			Writable:    true,
			Readable:    true,
		},
		setpoint(0xD, "Sd", "Id_setpoint", "setpoint direct current (in FOC-mode)", Between(-2048, 2047)),
		setpoint(0xE, "Sq", "Iq_setpoint", "setpoint quadrature current (in FOC-mode)", Between(-2048, 2047)),
		setpoint(0xF, "Sp", "PWM_setpoint", "setpoint for PWM duty-cycle (in BLDC-mode)", ZeroTo(2000)),
		setpoint(0x10, "Su", "PWM_set_U", "setpoint for PWM phase U (in DC-mode)", ZeroTo(2000)),
		setpoint(0x11, "Sv", "PWM_set_V", "setpoint for PWM phase V (in DC-mode)", ZeroTo(2000)),
		setpoint(0x12, "Sw", "PWM_set_W", "setpoint for PWM phase W (in DC-mode)", ZeroTo(2000)),
		setpoint(0x13, "Sr", "RPM_setpoint", "setpoint for RPM", Between(-30000, 30000)),
	}
	return specs
}

func setpoint(address uint16, mnemonic, name, description string, rng Range) Spec {
	return Spec{
		Address:     address,
		Mnemonic:    mnemonic,
		Name:        name,
		Description: description,
		Range:       rng,
		Transform:   Identity(),
		Writable:    true,
		Readable:    true,
	}
}
