package domain

type Device struct {
	Id           string
	Name         string
	Version      string
	Model        string
	Manufacturer string
	ViaDevice    string
}

type GenericSensor struct {
	Device            Device
	Id                string
	SensorType        string
	Name              string
	UniqueId          string
	UnitOfMeasurement string
	StateClass        string // measurement, total
	DeviceClass       string // power, energy, monetary, timestamp
	EntityCategory    string // diagnostic, config, nil
	EnabledByDefault  *bool
	Icon              string
	HasAttributes     bool
}

type GenericSwitch struct {
	Device   Device
	Id       string
	Name     string
	UniqueId string
	Icon     string
	Default  bool
}

type GenericInputNumber struct {
	Device       Device
	Id           string
	Name         string
	UniqueId     string
	Icon         string
	Max          float64
	Min          float64
	Step         float64
	Mode         string
	InitialValue float64
}

// Settings are the automation switches and numbers with their default values.
type Settings struct {
	Switches map[string]bool
	Numbers  map[string]float64
}

func DefaultSettings(device Device) Settings {
	settings := Settings{
		Switches: map[string]bool{},
		Numbers:  map[string]float64{},
	}
	for _, sw := range AutomationSwitches(device) {
		settings.Switches[sw.Id] = sw.Default
	}
	for _, num := range AutomationInputNumbers(device) {
		settings.Numbers[num.Id] = num.InitialValue
	}
	return settings
}
